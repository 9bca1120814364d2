package quantize

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Round 把 value 按精度倒数 base 四舍五入：round(value*base)/base
// base = 1/increment，启动时预先算好
func Round(value, base float64) float64 {
	return math.Round(value*base) / base
}

// Params 价格/数量精度参数（进程生命周期内只读）
type Params struct {
	PriceIncrement float64
	PriceBase      float64
	SizeIncrement  float64
	SizeBase       float64

	priceExp int32
	sizeExp  int32
}

// NewParams 根据价格/数量最小变动单位构建精度参数
func NewParams(priceIncrement, sizeIncrement float64) (Params, error) {
	if priceIncrement <= 0 || math.IsNaN(priceIncrement) || math.IsInf(priceIncrement, 0) {
		return Params{}, fmt.Errorf("price_increment 必须大于 0: %v", priceIncrement)
	}
	if sizeIncrement <= 0 || math.IsNaN(sizeIncrement) || math.IsInf(sizeIncrement, 0) {
		return Params{}, fmt.Errorf("size_increment 必须大于 0: %v", sizeIncrement)
	}
	return Params{
		PriceIncrement: priceIncrement,
		PriceBase:      1.0 / priceIncrement,
		SizeIncrement:  sizeIncrement,
		SizeBase:       1.0 / sizeIncrement,
		priceExp:       places(priceIncrement),
		sizeExp:        places(sizeIncrement),
	}, nil
}

// Price 价格取整到 price increment
func (p Params) Price(v float64) float64 { return Round(v, p.PriceBase) }

// Size 数量取整到 size increment
func (p Params) Size(v float64) float64 { return Round(v, p.SizeBase) }

// FormatPrice 输出交易所精度的价格字符串（不带多余的尾随 0）
func (p Params) FormatPrice(v float64) string {
	return format(p.Price(v), p.priceExp)
}

// FormatSize 输出交易所精度的数量字符串
func (p Params) FormatSize(v float64) string {
	return format(p.Size(v), p.sizeExp)
}

// Parse 解析交易所返回的十进制字符串
func Parse(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("空数值字符串")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("解析数值失败 %q: %w", s, err)
	}
	f, _ := d.Float64()
	return f, nil
}

func format(v float64, exp int32) string {
	d := decimal.NewFromFloat(v).Round(exp)
	s := d.StringFixed(exp)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}

// places 返回 increment 需要的小数位数，例如 1 -> 0, 0.5 -> 1, 0.00000001 -> 8
func places(increment float64) int32 {
	d := decimal.NewFromFloat(increment)
	if d.Exponent() >= 0 {
		return 0
	}
	return -d.Exponent()
}
