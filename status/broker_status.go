package status

import "strconv"

// BrokerStatus is the broker session code shared on the bus.
// Codes are part of the wire contract between tasks, do not renumber.
type BrokerStatus uint8

const (
	BrokerOffline      BrokerStatus = 0
	BrokerConnected    BrokerStatus = 1
	BrokerDisconnected BrokerStatus = 2
	BrokerPublished    BrokerStatus = 3
	BrokerErrorNetwork BrokerStatus = 90
	BrokerErrorOther   BrokerStatus = 91
)

func (s BrokerStatus) String() string {
	switch s {
	case BrokerOffline:
		return "Offline"
	case BrokerConnected:
		return "Connected"
	case BrokerDisconnected:
		return "Disconnected"
	case BrokerPublished:
		return "Published"
	case BrokerErrorNetwork:
		return "ErrNet"
	default:
		return "Error"
	}
}

func (s BrokerStatus) IsError() bool {
	return s >= BrokerErrorNetwork
}

// Code is the numeric form rendered on the panel.
func (s BrokerStatus) Code() string { return strconv.Itoa(int(s)) }
