package models

// GatewaySessionRequest is the body sent to the hosted checkout API
type GatewaySessionRequest struct {
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
	OrderNumber  string  `json:"orderNumber"`
	Invoice      string  `json:"invoice,omitempty"`
	CustomerID   string  `json:"customerId"`
	Email        string  `json:"email"`
	FirstName    string  `json:"firstName,omitempty"`
	LastName     string  `json:"lastName,omitempty"`
	Address      Address `json:"billingAddress"`
	CaptchaToken string  `json:"captchaToken"`
	TerminalID   string  `json:"terminalId,omitempty"`
}

// GatewayStatusRequest asks the hosted checkout API for a transaction status
type GatewayStatusRequest struct {
	TransactionID string `json:"transactionId"`
	TerminalID    string `json:"terminalId,omitempty"`
}

// GatewayResponse is the envelope returned by the hosted checkout API
type GatewayResponse struct {
	Status  bool                   `json:"status"`
	Code    interface{}            `json:"code"`
	Message interface{}            `json:"message"`
	Data    map[string]interface{} `json:"data"`
}
