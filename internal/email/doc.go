// Package email provides subscription.Notifier implementations: an HTTP
// email API client (APIClient) and an AWS SES v2 sender (SESSender).
package email
