package middleware

import "noc-rpc/logging"

var logger = logging.New("middleware")
