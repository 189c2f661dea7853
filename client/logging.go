package client

import "noc-rpc/logging"

var logger = logging.New("client")
