package email

import (
	"bytes"
	"html/template"

	"github.com/example/ec-ordering/internal/domain/pricing"
)

// OrderItem is one confirmed order line as shown in an email.
type OrderItem struct {
	Name      string
	AddOns    []string
	Removed   []string
	Quantity  int
	UnitPrice pricing.Money
	LineTotal pricing.Money
}

// Confirmation is the data rendered into an order confirmation email.
type Confirmation struct {
	OrderID      string
	CustomerName string
	Address      string
	Items        []OrderItem
	Total        pricing.Money
}

var confirmationTmpl = template.Must(template.New("confirmation").Parse(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<div style="background: #2f855a; padding: 30px; border-radius: 10px 10px 0 0;">
		<h1 style="color: white; margin: 0; font-size: 24px;">Thank you for your order</h1>
	</div>

	<div style="background: #fff; padding: 30px; border: 1px solid #eee; border-top: none; border-radius: 0 0 10px 10px;">
		<p style="margin-top: 0;">{{if .CustomerName}}Hi {{.CustomerName}}, we{{else}}We{{end}} have received your order and will start preparing it once payment is confirmed.</p>

		<div style="background: #f8f9fa; padding: 15px; border-radius: 5px; margin: 20px 0;">
			<p style="margin: 0; font-size: 14px; color: #666;">Order number</p>
			<p style="margin: 5px 0 0 0; font-size: 18px; font-weight: bold; font-family: monospace;">{{.OrderID}}</p>
		</div>

		<table style="width: 100%; border-collapse: collapse; margin: 20px 0;">
			<thead>
				<tr style="background: #f8f9fa;">
					<th style="padding: 12px; text-align: left;">Item</th>
					<th style="padding: 12px; text-align: center;">Qty</th>
					<th style="padding: 12px; text-align: right;">Price</th>
					<th style="padding: 12px; text-align: right;">Subtotal</th>
				</tr>
			</thead>
			<tbody>
			{{- range .Items}}
				<tr>
					<td style="padding: 12px; border-bottom: 1px solid #eee;">{{.Name}}
					{{- range .AddOns}}<br><small>+ {{.}}</small>{{end}}
					{{- range .Removed}}<br><small>no {{.}}</small>{{end}}</td>
					<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: center;">{{.Quantity}}</td>
					<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: right;">{{.UnitPrice}}</td>
					<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: right;">{{.LineTotal}}</td>
				</tr>
			{{- end}}
			</tbody>
		</table>

		<div style="text-align: right; padding: 20px; background: #f8f9fa; border-radius: 5px;">
			<span style="font-size: 14px; color: #666;">Total</span>
			<span style="font-size: 24px; font-weight: bold; margin-left: 10px;">{{.Total}}</span>
		</div>
		{{- if .Address}}

		<p style="font-size: 14px;">Delivering to: {{.Address}}</p>
		{{- end}}

		<hr style="border: none; border-top: 1px solid #eee; margin: 30px 0;">

		<p style="font-size: 12px; color: #999; margin-bottom: 0;">
			This message was sent automatically. Please do not reply.
		</p>
	</div>
</body>
</html>
`))

// BuildOrderConfirmationBody renders the HTML body of an order confirmation.
// Customer supplied fields are escaped.
func BuildOrderConfirmationBody(c Confirmation) (string, error) {
	var buf bytes.Buffer
	if err := confirmationTmpl.Execute(&buf, c); err != nil {
		return "", err
	}
	return buf.String(), nil
}
