package tgui

import (
	"errors"
	"strconv"
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
const MaxCallbackDataLen = 64

var (
	ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")
	ErrCallbackData        = errors.New("tgui: malformed callback_data")
)

// Data formats callback data as "action:arg1:arg2".
func Data(action string, args ...string) (string, error) {
	parts := append([]string{strings.TrimSpace(action)}, args...)
	for _, p := range parts {
		if p == "" || strings.Contains(p, ":") {
			return "", ErrCallbackData
		}
	}
	s := strings.Join(parts, ":")
	if len(s) > MaxCallbackDataLen {
		return "", ErrCallbackDataTooLong
	}
	return s, nil
}

// MustData is Data for arguments known to be valid. It panics otherwise.
func MustData(action string, args ...string) string {
	s, err := Data(action, args...)
	if err != nil {
		panic(err)
	}
	return s
}

// Callback is parsed callback data.
type Callback struct {
	Action string
	Args   []string
}

// ParseData splits callback data produced by Data.
func ParseData(data string) (Callback, error) {
	if data == "" || len(data) > MaxCallbackDataLen {
		return Callback{}, ErrCallbackData
	}
	parts := strings.Split(data, ":")
	for _, p := range parts {
		if p == "" {
			return Callback{}, ErrCallbackData
		}
	}
	return Callback{Action: parts[0], Args: parts[1:]}, nil
}

// Int64 returns argument i as an int64.
func (c Callback) Int64(i int) (int64, error) {
	if i < 0 || i >= len(c.Args) {
		return 0, ErrCallbackData
	}
	v, err := strconv.ParseInt(c.Args[i], 10, 64)
	if err != nil {
		return 0, ErrCallbackData
	}
	return v, nil
}

// Int returns argument i as an int.
func (c Callback) Int(i int) (int, error) {
	v, err := c.Int64(i)
	return int(v), err
}
