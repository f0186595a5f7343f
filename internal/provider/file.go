package provider

import (
	"encoding/json"
	"os"

	"github.com/yanun0323/errors"
)

// fileData mirrors the JSON layout of a market data file.
type fileData struct {
	Calendar []string                         `json:"calendar"`
	Quotes   map[string]map[string]Quote      `json:"quotes"` // symbol -> date -> quote
	Info     map[string]SymbolInfo            `json:"info"`   // symbol -> static info
	InfoDays map[string]map[string]SymbolInfo `json:"infoDays,omitempty"`
}

// LoadFile builds an in-memory provider from a JSON market data file. This is
// the batteries-included path for backtests without a live data service.
func LoadFile(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read market data file")
	}
	var fd fileData
	if err := json.Unmarshal(data, &fd); err != nil {
		return nil, errors.Wrap(err, "parse market data file")
	}
	if len(fd.Calendar) == 0 {
		return nil, errors.New("market data file has no calendar")
	}

	m := NewMemory()
	m.SetCalendar(fd.Calendar...)
	for symbol, byDate := range fd.Quotes {
		for date, quote := range byDate {
			m.SetQuote(symbol, date, quote)
		}
	}
	for symbol, info := range fd.Info {
		m.SetInfoAll(symbol, info)
	}
	for symbol, byDate := range fd.InfoDays {
		for date, info := range byDate {
			m.SetInfo(symbol, date, info)
		}
	}
	return m, nil
}
