package email

import "fmt"

// BuildStockAlertBody renders the HTML body for a stock alert email.
func BuildStockAlertBody(productID string, quantity, threshold int) string {
	return fmt.Sprintf(`<html><body>
<h2>Stock alert</h2>
<table border="0" cellpadding="4">
<tr><td>Product</td><td><b>%s</b></td></tr>
<tr><td>Current quantity</td><td><b>%d</b></td></tr>
<tr><td>Threshold</td><td>%d</td></tr>
</table>
<p>Please review replenishment for this product.</p>
</body></html>`, productID, quantity, threshold)
}
