package httpapi

import "noc-rpc/logging"

var logger = logging.New("httpapi")
