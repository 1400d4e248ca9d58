package utils

import "github.com/google/uuid"

// GenMessageID returns a new unique message id.
func GenMessageID() string { return "m_" + uuid.NewString() }

// GenConnID returns a new unique connection id.
func GenConnID() string { return "c_" + uuid.NewString() }

// GenUserID returns a new unique user id.
func GenUserID() string { return "u_" + uuid.NewString() }

// GenChannelID returns a new unique channel id.
func GenChannelID() string { return "ch_" + uuid.NewString() }
