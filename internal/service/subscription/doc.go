// Package subscription implements the subscriber registration and
// confirmation workflow.
//
// A registration validates the submitted identity, persists a pending
// subscriber together with its confirmation token in one transaction, and
// sends a confirmation message through a Notifier. Redeeming the token later
// moves the subscriber to confirmed.
//
// The service layer depends on the Repository, Notifier and Observer
// interfaces defined in this package. It never imports net/http or
// database/sql directly. Repository implementations live in
// repository/postgres/ and repository/memory/.
package subscription
