package boot

import "noc-rpc/logging"

var logger = logging.New("boot")
