package converter

import (
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"time"

	"github.com/ethpandaops/resthub/pkg/tabular"
	"github.com/shopspring/decimal"
)

// DateLayout is the date-time pattern shared by every text converter
const DateLayout = "2006-01-02T15:04:05"

// FormatValue renders a non-null value as text according to its column
// type. LOB columns render as a reference URL built from ref. The second
// return value is false for null values, which converters omit.
func FormatValue(col tabular.Column, value any, ref *url.URL, row int) (string, bool) {
	if value == nil {
		return "", false
	}

	switch col.Type {
	case tabular.TypeNumber:
		return formatNumber(value), true
	case tabular.TypeDate:
		if t, ok := value.(time.Time); ok {
			return t.Format(DateLayout), true
		}
		return formatString(value), true
	case tabular.TypeBlob, tabular.TypeClob:
		return LobReference(ref, col.CName, row), true
	default:
		return formatString(value), true
	}
}

// LobReference builds the URL addressing a LOB cell: the originating data
// request address extended with /lob/{cname}/{row}. Row is 0-based here and
// 1-based on the wire.
func LobReference(ref *url.URL, cname string, row int) string {
	if ref == nil {
		return "lob/" + url.PathEscape(cname) + "/" + strconv.Itoa(row+1)
	}

	u := *ref
	u.Path = trimSlash(u.Path) + "/lob/" + cname + "/" + strconv.Itoa(row+1)
	u.RawPath = ""

	return u.String()
}

func trimSlash(p string) string {
	for len(p) > 0 && p[len(p)-1] == '/' {
		p = p[:len(p)-1]
	}
	return p
}

// plainDecimal renders d without exponent, keeping its stored scale
func plainDecimal(d decimal.Decimal) string {
	if exp := d.Exponent(); exp < 0 {
		return d.StringFixed(-exp)
	}

	return d.String()
}

func formatNumber(value any) string {
	switch v := value.(type) {
	case decimal.Decimal:
		return plainDecimal(v)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return decimal.NewFromFloat32(v).String()
	case float64:
		return decimal.NewFromFloat(v).String()
	case *big.Int:
		return v.String()
	case []byte:
		if d, err := decimal.NewFromString(string(v)); err == nil {
			return plainDecimal(d)
		}
		return string(v)
	case string:
		if d, err := decimal.NewFromString(v); err == nil {
			return plainDecimal(d)
		}
		return v
	default:
		return fmt.Sprint(v)
	}
}

func formatString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(DateLayout)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
