package scanning

import "strings"

// recognizePrompt is shared by all providers for line transcription
const recognizePrompt = `You are reading a photograph of part of a long paper receipt. Transcribe every line of printed text exactly as it appears, from top to bottom.

Return ONLY valid JSON in this exact format:
{
  "lines": ["first line", "second line"]
}

Important:
- Keep one array entry per printed line; do not merge or split lines
- Keep prices, quantities and codes exactly as printed, including currency symbols
- Include partially visible lines at the top or bottom edge if they are readable
- Do not correct spelling and do not add lines that are not printed
- If there is no readable text, return {"lines": []}
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// extractFieldsPrompt is shared by all providers for field extraction
const extractFieldsPrompt = `You are given the full text of a store receipt, one printed line per line. Extract the following information:

1. **Business**: the merchant name (usually the first lines), address, phone number and tax identification number if printed.

2. **Date**: the transaction date, converted to ISO 8601 format (YYYY-MM-DD).

3. **Items**: every purchased item with its description, quantity, unit price and line total. If no quantity is printed, use 1.

4. **Totals**: the subtotal, the tax amount and the final grand total ("TOTAL", "Amount Due", "Balance").

Return ONLY valid JSON in this exact format:
{
  "business": {"name": "", "address": "", "phone": "", "tax_id": ""},
  "date": "YYYY-MM-DD",
  "items": [{"description": "", "quantity": 1, "unit_price": 0.00, "line_total": 0.00}],
  "subtotal": 0.00,
  "tax": 0.00,
  "total": 0.00
}

Important:
- Amounts must be numbers (not strings), in dollars and cents
- If you cannot find a field, use null for that field
- Do not invent items that are not in the text
- Do not include any text before or after the JSON
- Do not use markdown code blocks

Receipt text:
`

func fieldsPrompt(lines []string) string {
	return extractFieldsPrompt + strings.Join(lines, "\n")
}
