// Package domain defines core data models and interfaces shared across the app.
// It contains plain types (identifiers, moods, usage records), contracts
// (transport and usage interfaces) and the error taxonomy only.
package domain
