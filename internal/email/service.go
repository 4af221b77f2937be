package email

import (
	"fmt"
	"net/smtp"
)

// Service sends operational mail via SMTP.
type Service struct {
	host string
	port string
	from string
	to   []string
}

// NewService creates an email service; to lists the ops recipients for
// stock alerts.
func NewService(host, port, from string, to []string) *Service {
	return &Service{host: host, port: port, from: from, to: to}
}

// SendStockAlert mails a low-stock alert to the ops recipients.
func (s *Service) SendStockAlert(subject, productID string, quantity, threshold int) error {
	body := BuildStockAlertBody(productID, quantity, threshold)
	var firstErr error
	for _, to := range s.to {
		if err := s.send(to, subject, body); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Service) send(to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		s.from, to, subject, body)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	return smtp.SendMail(addr, nil, s.from, []string{to}, []byte(msg))
}
