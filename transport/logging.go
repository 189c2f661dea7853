package transport

import "noc-rpc/logging"

var logger = logging.New("transport")
