package eth

import "noc-rpc/logging"

var logger = logging.New("eth")
