package fp

import "noc-rpc/logging"

var logger = logging.New("fp")
