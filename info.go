package eldes

// signalLevels maps the raw GSM strength bars to a percentage.
var signalLevels = [...]int{0, 30, 60, 80, 100}

// SignalPercent converts the raw 0-4 GSM strength into a percentage.
func SignalPercent(raw int) int {
	switch {
	case raw <= 0:
		return 0
	case raw >= len(signalLevels):
		return signalLevels[len(signalLevels)-1]
	default:
		return signalLevels[raw]
	}
}

// SignalPercent is the device GSM strength as a percentage.
func (i DeviceInfo) SignalPercent() int {
	return SignalPercent(i.GSMStrength)
}

// BatteryLabel describes the backup battery status.
func (i DeviceInfo) BatteryLabel() string {
	if i.BatteryStatus {
		return "OK"
	}
	return "Bad"
}
