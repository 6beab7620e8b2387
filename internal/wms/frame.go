package wms

import (
	"fmt"
	"strconv"
	"strings"
)

// Stick frames are ASCII, wrapped in braces: "{" body "}". The first byte of
// the body selects the frame type.
const (
	frameName    = 'g' // reply to {G}
	frameVersion = 'v' // reply to {V}
	frameAck     = 'a' // command accepted
	frameRadio   = 'r' // message received over the air
	frameFailed  = 'f' // radio transmission failed
)

// Radio message types carried in 'r' frames.
const (
	msgScanRequest      = "7020"
	msgScanResponse     = "7021"
	msgMoveCommand      = "7070"
	msgMoveAck          = "7071"
	msgWeatherBroadcast = "7080"
	msgPositionRequest  = "8010"
	msgPositionResponse = "8011"
)

// encodeFrame wraps a body in frame delimiters.
func encodeFrame(body string) []byte {
	return []byte("{" + body + "}")
}

// decodeFrame extracts the body of a raw frame. Bytes before the last
// opening brace are line noise and are discarded.
func decodeFrame(raw string) (string, bool) {
	start := strings.LastIndexByte(raw, '{')
	if start < 0 || !strings.HasSuffix(raw, "}") {
		return "", false
	}
	body := raw[start+1 : len(raw)-1]
	if body == "" {
		return "", false
	}
	return body, true
}

// encodeSNR converts a decimal serial number to the 6 hex digit, byte-reversed
// form used on the air.
func encodeSNR(snr string) (string, error) {
	n, err := strconv.ParseUint(snr, 10, 32)
	if err != nil || n > 0xFFFFFF {
		return "", fmt.Errorf("invalid serial %q", snr)
	}
	return fmt.Sprintf("%02X%02X%02X", n&0xFF, (n>>8)&0xFF, (n>>16)&0xFF), nil
}

// decodeSNR is the inverse of encodeSNR.
func decodeSNR(hex string) (string, error) {
	if len(hex) != 6 {
		return "", fmt.Errorf("invalid serial hex %q", hex)
	}
	b0, err0 := strconv.ParseUint(hex[0:2], 16, 8)
	b1, err1 := strconv.ParseUint(hex[2:4], 16, 8)
	b2, err2 := strconv.ParseUint(hex[4:6], 16, 8)
	if err0 != nil || err1 != nil || err2 != nil {
		return "", fmt.Errorf("invalid serial hex %q", hex)
	}
	return strconv.FormatUint(b2<<16|b1<<8|b0, 10), nil
}

// radioMsg is a parsed 'r' frame.
type radioMsg struct {
	snr  string // decimal
	typ  string
	data string
}

func parseRadio(body string) (radioMsg, error) {
	// r + snr(6) + type(4)
	if len(body) < 11 || body[0] != frameRadio {
		return radioMsg{}, fmt.Errorf("short radio frame %q", body)
	}
	snr, err := decodeSNR(body[1:7])
	if err != nil {
		return radioMsg{}, err
	}
	return radioMsg{snr: snr, typ: body[7:11], data: body[11:]}, nil
}

func hexByte(s string) (int, error) {
	v, err := strconv.ParseUint(s, 16, 8)
	return int(v), err
}

// parseScanResponse reads the device type from a scan answer:
// panid(4) + type(2) + ...
func parseScanResponse(m radioMsg) (ScannedDevice, error) {
	if len(m.data) < 6 {
		return ScannedDevice{}, fmt.Errorf("short scan response %q", m.data)
	}
	return ScannedDevice{Serial: m.snr, Type: strings.ToUpper(m.data[4:6])}, nil
}

// parsePositionResponse decodes: hdr(8) + position*2(2) + angle+127(2) + moving(2).
func parsePositionResponse(m radioMsg) (PositionPayload, error) {
	if len(m.data) < 14 {
		return PositionPayload{}, fmt.Errorf("short position response %q", m.data)
	}
	rawPos, err := hexByte(m.data[8:10])
	if err != nil {
		return PositionPayload{}, fmt.Errorf("position: %w", err)
	}
	rawAngle, err := hexByte(m.data[10:12])
	if err != nil {
		return PositionPayload{}, fmt.Errorf("angle: %w", err)
	}
	rawMoving, err := hexByte(m.data[12:14])
	if err != nil {
		return PositionPayload{}, fmt.Errorf("moving: %w", err)
	}
	pos := rawPos / 2
	angle := rawAngle - 127
	moving := rawMoving != 0
	return PositionPayload{Serial: m.snr, Position: &pos, Angle: &angle, Moving: &moving}, nil
}

// parseWeather decodes: wind(2) + lumen(4) + temp(2) + rain(2).
// Temperature is sent as (celsius+35)*2.
func parseWeather(m radioMsg) (WeatherPayload, error) {
	if len(m.data) < 10 {
		return WeatherPayload{}, fmt.Errorf("short weather broadcast %q", m.data)
	}
	wind, err := hexByte(m.data[0:2])
	if err != nil {
		return WeatherPayload{}, fmt.Errorf("wind: %w", err)
	}
	lumen, err := strconv.ParseUint(m.data[2:6], 16, 16)
	if err != nil {
		return WeatherPayload{}, fmt.Errorf("lumen: %w", err)
	}
	rawTemp, err := hexByte(m.data[6:8])
	if err != nil {
		return WeatherPayload{}, fmt.Errorf("temp: %w", err)
	}
	rain, err := hexByte(m.data[8:10])
	if err != nil {
		return WeatherPayload{}, fmt.Errorf("rain: %w", err)
	}
	return WeatherPayload{
		Serial: m.snr,
		Wind:   wind,
		Lumen:  int(lumen),
		Temp:   float64(rawTemp)/2 - 35,
		Rain:   rain != 0,
	}, nil
}

// Command bodies sent to the stick.

func cmdScan(panID string) string {
	return "R04FFFFFF" + msgScanRequest + panID + "02"
}

func cmdMove(snrHex string, position int, angle *int) string {
	a := "FF"
	if angle != nil {
		a = fmt.Sprintf("%02X", *angle+127)
	}
	return fmt.Sprintf("R06%s%s03%02X%sFFFF", snrHex, msgMoveCommand, position*2, a)
}

func cmdStop(snrHex string) string {
	return "R06" + snrHex + msgMoveCommand + "01FFFFFFFF"
}

func cmdPosition(snrHex string) string {
	return "R06" + snrHex + msgPositionRequest + "01000005"
}

func cmdNetwork(channel int, panID string) string {
	return fmt.Sprintf("M%%%02d%s", channel, panID)
}

func cmdKey(key string) string {
	return "K401" + key
}
