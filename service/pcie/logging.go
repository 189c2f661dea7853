package pcie

import "noc-rpc/logging"

var logger = logging.New("pcie")
