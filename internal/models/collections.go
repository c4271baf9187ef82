package models

// Document store collections.
const (
	CollectionSessions         = "sessions"
	CollectionSpeakerProposals = "speakerProposals"
	CollectionRegistrations    = "registrations"
	CollectionSessionUpvotes   = "sessionUpvotes"
	CollectionFeedback         = "feedback"
	CollectionUsers            = "users"
	CollectionCredentials      = "credentials"
)
