// Package delivery runs the periodic delivery pass: every tick it reads the
// rows that are due, hands each one to the platform sender and deletes the
// rows that were sent.
//
// Delivery is at-least-once. A row is deleted only after its send succeeded,
// so a crash between send and delete redelivers it after restart. A failed
// send leaves the row in place and it is tried again on the next tick.
package delivery
