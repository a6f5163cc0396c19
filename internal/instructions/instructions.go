package instructions

import (
	"os"
	"path/filepath"
	"strings"

	"hunter_bot/internal/models"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v2"
)

const DefaultPath = "config/trade_instructions.json"

var ErrUnsupportedFormat = errors.New("instructions: unsupported file format")

// Load читает сырые инструкции из .json/.yaml/.yml.
// Отсутствующий файл — не ошибка, просто пустой список.
func Load(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "read %s", path)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		var out []map[string]any
		if err := sonic.Unmarshal(data, &out); err != nil {
			return nil, errors.Wrapf(err, "decode %s", path)
		}
		return out, nil
	case ".yaml", ".yml":
		var raw []map[string]interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, errors.Wrapf(err, "decode %s", path)
		}
		out := make([]map[string]any, 0, len(raw))
		for _, r := range raw {
			out = append(out, normalize(r))
		}
		return out, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "%s", path)
	}
}

// yaml.v2 отдаёт вложенные map[interface{}]interface{}
func normalize(in map[string]interface{}) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if m, ok := v.(map[interface{}]interface{}); ok {
			out[k] = normalize(cast.ToStringMap(m))
			continue
		}
		out[k] = v
	}
	return out
}

type record struct {
	Symbol     string  `json:"symbol"`
	EntryPrice float64 `json:"entry_price"`
	ExitPrice  float64 `json:"exit_price"`
	StopLoss   float64 `json:"stop_loss"`
	LotSize    float64 `json:"lot_size"`
	Direction  string  `json:"direction"`
	Comment    string  `json:"comment,omitempty"`
}

// Save пишет инструкции в формате, который принимает Load.
func Save(path string, list []models.TradeInstruction) error {
	out := make([]record, 0, len(list))
	for _, in := range list {
		out = append(out, record{
			Symbol:     in.Symbol,
			EntryPrice: in.EntryPrice,
			ExitPrice:  in.ExitPrice,
			StopLoss:   in.StopLoss,
			LotSize:    in.LotSize,
			Direction:  string(in.Direction),
			Comment:    in.Comment,
		})
	}

	data, err := sonic.ConfigStd.MarshalIndent(out, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode instructions")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "mkdir %s", dir)
		}
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "write %s", path)
}
