package llm

// BuildInvoiceJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a
// generic map. We pass this to the inference API as a structured output
// constraint and also use it locally to validate.
func BuildInvoiceJSONSchema() map[string]any {
	props := map[string]any{
		"vendor_name":    map[string]any{"type": "string", "minLength": 1},
		"invoice_number": map[string]any{"type": "string"},
		"invoice_date":   map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
		"due_date":       map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
		"subtotal":       decimalProp(),
		"tax":            decimalProp(),
		"total":          decimalProp(),
		"currency_code":  map[string]any{"type": "string", "minLength": 3, "maxLength": 3},
		"line_items": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties": map[string]any{
					"description": map[string]any{"type": "string"},
					"quantity":    map[string]any{"type": "number"},
					"unit_price":  decimalProp(),
					"amount":      decimalProp(),
				},
				"required": []string{"description", "amount"},
			},
		},
		"confidence": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
	}
	required := []string{"vendor_name", "invoice_date", "total", "currency_code"}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             required,
	}
}

// BuildStatementJSONSchema returns the schema for bank/card statement
// extraction.
func BuildStatementJSONSchema() map[string]any {
	props := map[string]any{
		"institution_name": map[string]any{"type": "string", "minLength": 1},
		"account_number":   map[string]any{"type": "string"},
		"period_start":     map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
		"period_end":       map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
		"opening_balance":  decimalProp(),
		"closing_balance":  decimalProp(),
		"currency_code":    map[string]any{"type": "string", "minLength": 3, "maxLength": 3},
		"transactions": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties": map[string]any{
					"date":        map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
					"description": map[string]any{"type": "string"},
					"amount":      decimalProp(),
				},
				"required": []string{"date", "amount"},
			},
		},
		"confidence": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
	}
	required := []string{"institution_name", "period_start", "period_end", "closing_balance"}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             required,
	}
}

func decimalProp() map[string]any {
	return map[string]any{
		"type":    "string",
		"pattern": `^-?\d+(\.\d{1,2})?$`, // allow negatives for credits
	}
}
