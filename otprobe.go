package prospector

import "bytes"

// otProtocols maps industrial protocol ports to their protocol names.
var otProtocols = map[int]string{
	102:   "ISO-TSAP (Siemens S7)",
	502:   "Modbus TCP",
	1089:  "FF Fieldbus Message Specification",
	1090:  "FF Fieldbus Message Specification",
	1091:  "FF Fieldbus Message Specification",
	1541:  "Foxboro/Invensys Foxapi",
	2222:  "EtherNet/IP",
	4840:  "OPC UA",
	9600:  "OMRON FINS",
	10000: "Codesys Runtime",
	18245: "GE SRTP",
	18246: "GE SRTP",
	20000: "DNP3",
	34962: "PROFInet RT",
	34963: "PROFInet RT",
	34964: "PROFInet RT",
	34980: "EtherCAT",
	44818: "EtherNet/IP",
	45678: "Schneider",
	47808: "BACnet",
	55000: "FL-net",
	55003: "FL-net",
}

// otProbePayloads holds the protocol-specific request sent to OT ports that
// speak a request/response protocol. A passive read would misclassify these
// as silent open ports.
var otProbePayloads = map[int][]byte{
	// Modbus: read ten holding registers from unit 1.
	502: {0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x00, 0x00, 0x00, 0x0A},
	// DNP3 link layer request.
	20000: {0x05, 0x64, 0x1a, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x04, 0x01, 0x00, 0x00, 0x01},
	// EtherNet/IP ListIdentity.
	44818: {0x63, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
	2222:  {0x63, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
	// BACnet: BVLC unicast Who-Is.
	47808: {0x81, 0x0a, 0x00, 0x0c, 0x01, 0x20, 0xff, 0xff, 0x00, 0xff, 0x10, 0x08},
	// OPC UA servers commonly expose an HTTP endpoint on the well-known port.
	4840: []byte("GET / HTTP/1.1\r\nHost: localhost:4840\r\nUser-Agent: Prospector/" + Version + "\r\nConnection: close\r\n\r\n"),
}

// IsOTPort reports whether a port belongs to a known industrial protocol.
func IsOTPort(port int) bool {
	_, ok := otProtocols[port]
	return ok
}

// OTProtocolName returns the protocol name for a recognized OT port.
func OTProtocolName(port int) (string, bool) {
	name, ok := otProtocols[port]
	return name, ok
}

// validateOTResponse checks whether a response carries the magic bytes the
// port's protocol is expected to answer with.
func validateOTResponse(port int, resp []byte) bool {
	if len(resp) == 0 {
		return false
	}
	switch port {
	case 502:
		// MBAP header echoes the transaction and protocol identifiers.
		return len(resp) >= 8 && resp[0] == 0x00 && resp[1] == 0x01 && resp[2] == 0x00 && resp[3] == 0x00
	case 20000:
		return len(resp) >= 2 && resp[0] == 0x05 && resp[1] == 0x64
	case 44818, 2222:
		return len(resp) >= 2 && resp[0] == 0x63 && resp[1] == 0x00
	case 47808:
		return resp[0] == 0x81
	case 4840:
		// HTTP endpoints answer the GET; binary endpoints acknowledge the
		// connection with an OPC UA ACK or error message.
		return bytes.HasPrefix(resp, []byte("HTTP/")) ||
			bytes.HasPrefix(resp, []byte("ACK")) ||
			bytes.HasPrefix(resp, []byte("ERR"))
	default:
		// Protocols without a crafted request are validated by any answer
		// at all on their registered port.
		return true
	}
}
