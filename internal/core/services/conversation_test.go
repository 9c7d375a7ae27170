package services

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"shop-assist/internal/core/domain"
)

func TestNewConversationID(t *testing.T) {
	id := NewConversationID()

	require.True(t, strings.HasPrefix(id, "conv_"))
	_, err := uuid.Parse(strings.TrimPrefix(id, "conv_"))
	assert.NoError(t, err)
	assert.NotEqual(t, id, NewConversationID())
}

func TestConversationService_GetOrCreateOffersFreshID(t *testing.T) {
	repo := new(MockConversationRepository)
	svc := NewConversationService(repo)
	existing := &domain.Conversation{ConversationID: "conv_existing"}
	repo.On("GetOrCreate", mock.Anything, int64(1), "shop", mock.MatchedBy(func(id string) bool {
		return strings.HasPrefix(id, "conv_")
	}), (*string)(nil)).Return(existing, nil).Twice()

	first, err := svc.GetOrCreate(context.Background(), 1, "shop", nil)
	require.NoError(t, err)
	second, err := svc.GetOrCreate(context.Background(), 1, "shop", nil)
	require.NoError(t, err)

	assert.Equal(t, first.ConversationID, second.ConversationID)
	repo.AssertExpectations(t)
}
