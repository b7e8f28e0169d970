// Package archive records finished conversations: the received audio goes to
// blob storage and a summary row goes to the history database.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/glizzus/moshi-cli/internal/datalayer"
	"github.com/glizzus/moshi-cli/internal/repository"
	"github.com/glizzus/moshi-cli/internal/session"
)

// ArtifactKey is the object key the received audio of a conversation is stored under.
func ArtifactKey(conversationID string) string {
	return fmt.Sprintf("conversations/%s.wav", conversationID)
}

// Archiver stores finished sessions. Either backend may be nil, in which
// case that part is skipped.
type Archiver struct {
	Blobs         datalayer.BlobStorage
	Conversations repository.ConversationPersister
	Host          string
}

// Archive uploads the session's WAV file, if one was written, and then saves
// the conversation. A failed upload is reported but the conversation is still
// saved, without an artifact key.
func (a *Archiver) Archive(ctx context.Context, sum *session.Summary) (repository.Conversation, error) {
	c := repository.Conversation{
		ID:              sum.ID,
		Host:            a.Host,
		StartedAt:       sum.StartedAt,
		EndedAt:         sum.EndedAt,
		SamplesSent:     sum.SamplesSent,
		SamplesReceived: int64(sum.SamplesReceived),
		Transcript:      sum.Transcript,
	}

	var uploadErr error
	if a.Blobs != nil && sum.Output != "" {
		key := ArtifactKey(sum.ID)
		if uploadErr = datalayer.PutFile(ctx, a.Blobs, key, sum.Output, "audio/wav"); uploadErr == nil {
			c.ArtifactKey = key
			slog.Info("Archived received audio", "key", key)
		}
	}

	var saveErr error
	if a.Conversations != nil {
		saveErr = a.Conversations.Save(ctx, c)
	}

	return c, errors.Join(uploadErr, saveErr)
}
