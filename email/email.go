package email

import (
	"fmt"
	"log"
	"net/smtp"
	"os"
)

func send(to, subject, body string) error {
	host := os.Getenv("SMTP_HOST")
	port := os.Getenv("SMTP_PORT")
	user := os.Getenv("SMTP_USER")
	pass := os.Getenv("SMTP_PASS")
	from := os.Getenv("SMTP_FROM")
	if from == "" {
		from = user
	}
	if host == "" || port == "" || user == "" || pass == "" || from == "" {
		return fmt.Errorf("SMTP environment variables missing")
	}
	addr := fmt.Sprintf("%s:%s", host, port)
	auth := smtp.PlainAuth("", user, pass, host)
	msg := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", from, to, subject, body))
	return smtp.SendMail(addr, auth, from, []string{to}, msg)
}

func SendWelcome(to string) error {
	subject := "Welcome to Cineclub"
	body := "Thanks for signing up. Find a club, pick a film, see you at the screening!"
	if err := send(to, subject, body); err != nil {
		return err
	}
	log.Printf("[EMAIL] welcome sent to %s", to)
	return nil
}

func SendPasswordChanged(to string) error {
	subject := "Password updated"
	body := "Your password was changed. If this wasn't you, contact support."
	if err := send(to, subject, body); err != nil {
		return err
	}
	log.Printf("[EMAIL] password change notification sent to %s", to)
	return nil
}

// SendPremiumActivated confirms a completed premium checkout.
func SendPremiumActivated(to string) error {
	subject := "Premium activated"
	body := "Your Cineclub Premium subscription is now active. Enjoy!"
	if err := send(to, subject, body); err != nil {
		return err
	}
	log.Printf("[EMAIL] premium activation sent to %s", to)
	return nil
}

// SendPremiumDowngraded notifies a member their subscription lapsed and the
// account is back on the free plan.
func SendPremiumDowngraded(to string) error {
	subject := "Your premium subscription ended"
	body := "Your Cineclub Premium subscription is no longer active and your account is back on the free plan. You can resubscribe any time."
	if err := send(to, subject, body); err != nil {
		return err
	}
	log.Printf("[EMAIL] premium downgrade notice sent to %s", to)
	return nil
}

// SendRoleChanged notifies a member their club role was updated.
func SendRoleChanged(to, role string) error {
	subject := "Your club role changed"
	body := fmt.Sprintf("A club president updated your role to: %s.", role)
	if err := send(to, subject, body); err != nil {
		return err
	}
	log.Printf("[EMAIL] role change notification sent to %s", to)
	return nil
}
