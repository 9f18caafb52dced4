package odoo

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/tahanlog/gastoflow/model"
)

// currencyMap resolves an ISO currency code to its identifier in the
// accounting system. The set is fixed; anything else is a permanent
// business error, never a retry.
var currencyMap = map[string]int{
	"ARS": 19,
	"BRL": 6,
	"CLP": 45,
	"PEN": 154,
	"PYG": 155,
	"USD": 2,
}

func MapCurrency(code string) (int, error) {
	id, ok := currencyMap[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return 0, model.BusinessStateError{
			Message: fmt.Sprintf("currency %s is not supported, available: %s",
				strings.ToUpper(strings.TrimSpace(code)), strings.Join(SupportedCurrencies(), ", ")),
		}
	}
	return id, nil
}

func SupportedCurrencies() []string {
	codes := make([]string, 0, len(currencyMap))
	for code := range currencyMap {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

type Company struct {
	Id       int
	Name     string
	Currency string
}

var (
	CompanyExitrans = Company{Id: 1, Name: "EXITRANS S.A.", Currency: "ARS"}
	CompanyThb      = Company{Id: 2, Name: "THB INTERNACIONAL LTDA", Currency: "BRL"}
	CompanyTurken   = Company{Id: 3, Name: "EXPORTADORA E IMPORTADORA TURKEN S A", Currency: "CLP"}
	CompanyThp      = Company{Id: 4, Name: "THP LOGISTICA S.A", Currency: "PYG"}
)

var DefaultCompany = CompanyTurken

// ExpenseData is the payload submitted to the accounting system.
type ExpenseData struct {
	Name                string  `json:"name"`
	Date                string  `json:"date"`
	EmployeeId          int     `json:"employee_id"`
	ProductId           int     `json:"product_id"`
	Quantity            int     `json:"quantity"`
	TotalAmount         float64 `json:"total_amount"`
	TotalAmountCurrency float64 `json:"total_amount_currency"`
	PaymentMode         string  `json:"payment_mode"`
	CurrencyId          int     `json:"currency_id"`
	CompanyId           int     `json:"company_id"`
	Description         string  `json:"description,omitempty"`
}

var ddmmyyyyPattern = regexp.MustCompile(`(\d{2})/(\d{2})/(\d{4})`)

var looseDateLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
}

// FormatDate normalizes an extracted receipt date to YYYY-MM-DD.
// DD/MM/YYYY with an optional time suffix is the common case; any
// other parseable layout is accepted, and an unparseable value falls
// back to today so a formatting glitch never blocks a posting.
func FormatDate(raw string, now time.Time) string {
	fallback := now.UTC().Format("2006-01-02")
	dateStr := strings.TrimSpace(raw)
	if dateStr == "" {
		return fallback
	}
	if m := ddmmyyyyPattern.FindStringSubmatch(dateStr); m != nil {
		return fmt.Sprintf("%s-%s-%s", m[3], m[2], m[1])
	}
	for _, layout := range looseDateLayouts {
		if parsed, err := time.Parse(layout, dateStr); err == nil {
			return parsed.UTC().Format("2006-01-02")
		}
	}
	return fallback
}
