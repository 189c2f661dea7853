package discovery

import "noc-rpc/logging"

var logger = logging.New("discovery")
