package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/apperrors"
	"chat-realtime/internal/middleware"
	"chat-realtime/internal/mocks"
	"chat-realtime/internal/models"
)

func setupFriendRouter(handler *FriendHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, testUser)
		c.Next()
	})
	r.POST("/friends/requests", handler.SendRequest)
	r.GET("/friends/requests", handler.ListRequests)
	r.POST("/friends/requests/:request_id/accept", handler.AcceptRequest)
	r.POST("/friends/requests/:request_id/decline", handler.DeclineRequest)
	r.DELETE("/friends/requests/:request_id", handler.CancelRequest)
	r.GET("/friends", handler.ListFriends)
	r.DELETE("/friends/:user_id", handler.RemoveFriend)
	r.GET("/friends/:user_id/status", handler.Status)
	r.POST("/blocks/:user_id", handler.Block)
	r.DELETE("/blocks/:user_id", handler.Unblock)
	return r
}

func TestSendFriendRequest(t *testing.T) {
	friends := new(mocks.FriendServiceMock)
	router := setupFriendRouter(NewFriendHandler(friends))
	receiver := uuid.New()

	friends.On("SendRequest", mock.Anything, testUser, receiver, mock.Anything).
		Return(models.FriendRequest{ID: uuid.New(), SenderID: testUser, ReceiverID: receiver, Status: models.RequestPending}, nil).Once()
	friends.On("SendRequest", mock.Anything, testUser, receiver, mock.Anything).
		Return(nil, fmt.Errorf("too many friend requests: %w", apperrors.ErrRateLimited)).Once()

	body := fmt.Sprintf(`{"receiver_id":%q,"message":"hi"}`, receiver)
	assert.Equal(t, http.StatusCreated, serve(router, http.MethodPost, "/friends/requests", body).Code)
	rec := serve(router, http.MethodPost, "/friends/requests", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"rate_limited"`)
	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodPost, "/friends/requests", `{"receiver_id":"nope"}`).Code)
	friends.AssertExpectations(t)
}

func TestListFriendRequestsDirection(t *testing.T) {
	friends := new(mocks.FriendServiceMock)
	router := setupFriendRouter(NewFriendHandler(friends))

	friends.On("ListRequests", mock.Anything, testUser, models.DirectionIncoming).Return([]models.FriendRequestView{}, nil).Once()
	friends.On("ListRequests", mock.Anything, testUser, models.DirectionOutgoing).Return([]models.FriendRequestView{}, nil).Once()

	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/friends/requests", "").Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/friends/requests?direction=outgoing", "").Code)
	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodGet, "/friends/requests?direction=sideways", "").Code)
	friends.AssertExpectations(t)
}

func TestFriendRequestTransitions(t *testing.T) {
	friends := new(mocks.FriendServiceMock)
	router := setupFriendRouter(NewFriendHandler(friends))
	reqID := uuid.New()

	friends.On("AcceptRequest", mock.Anything, reqID, testUser).Return(models.FriendRequest{ID: reqID, Status: models.RequestAccepted}, nil).Once()
	friends.On("DeclineRequest", mock.Anything, reqID, testUser).Return(nil, fmt.Errorf("request: %w", apperrors.ErrConflict)).Once()
	friends.On("CancelRequest", mock.Anything, reqID, testUser).Return(nil, fmt.Errorf("request: %w", apperrors.ErrForbidden)).Once()

	rec := serve(router, http.MethodPost, "/friends/requests/"+reqID.String()+"/accept", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"accepted"`)
	assert.Equal(t, http.StatusConflict, serve(router, http.MethodPost, "/friends/requests/"+reqID.String()+"/decline", "").Code)
	assert.Equal(t, http.StatusForbidden, serve(router, http.MethodDelete, "/friends/requests/"+reqID.String(), "").Code)
	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodPost, "/friends/requests/x/accept", "").Code)
	friends.AssertExpectations(t)
}

func TestFriendsAndBlocks(t *testing.T) {
	friends := new(mocks.FriendServiceMock)
	router := setupFriendRouter(NewFriendHandler(friends))
	other := uuid.New()

	friends.On("ListFriends", mock.Anything, testUser).Return([]models.FriendView{{Friendship: models.Friendship{UserID: testUser, FriendID: other}}}, nil).Once()
	friends.On("RemoveFriend", mock.Anything, testUser, other).Return(nil).Once()
	friends.On("Block", mock.Anything, testUser, other).Return(nil).Once()
	friends.On("Unblock", mock.Anything, testUser, other).Return(fmt.Errorf("block: %w", apperrors.ErrNotFound)).Once()
	friends.On("Status", mock.Anything, testUser, other).Return(models.RelationFriends, nil).Once()

	rec := serve(router, http.MethodGet, "/friends", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), other.String())

	rec = serve(router, http.MethodGet, "/friends/"+other.String()+"/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"are_friends":true`)

	assert.Equal(t, http.StatusNoContent, serve(router, http.MethodDelete, "/friends/"+other.String(), "").Code)
	assert.Equal(t, http.StatusNoContent, serve(router, http.MethodPost, "/blocks/"+other.String(), "").Code)
	assert.Equal(t, http.StatusNotFound, serve(router, http.MethodDelete, "/blocks/"+other.String(), "").Code)
	friends.AssertExpectations(t)
}
