package server

import "noc-rpc/logging"

var logger = logging.New("server")
