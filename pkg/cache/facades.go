package cache

import (
	"context"
	"time"
)

// Cache namespaces. Each facade owns exactly one.
const (
	NamespaceQuery     = "query"
	NamespaceLLM       = "llm"
	NamespaceWebsocket = "websocket"
	NamespaceSession   = "session"
)

// highConfidence is the threshold above which an LLM response is
// considered settled and cached with the long namespace TTL;
// provisional responses get provisionalResponseTTL instead.
const highConfidence = 0.8

// provisionalResponseTTL is the short TTL for low-confidence responses.
const provisionalResponseTTL = 5 * time.Minute

// QueryResultCache caches scraped/search query results under the
// "query" namespace, tagged per product so price updates can
// invalidate every query that surfaced the product.
type QueryResultCache struct {
	manager *Manager
}

// NewQueryResultCache creates the query-result facade.
func NewQueryResultCache(manager *Manager) *QueryResultCache {
	return &QueryResultCache{manager: manager}
}

// Key derives the cache key for a query plus its filter context.
func (c *QueryResultCache) Key(query string, filters map[string]interface{}) string {
	return MakeKey(NamespaceQuery, query, filters)
}

// GetResults decodes cached results for the query into dest.
func (c *QueryResultCache) GetResults(ctx context.Context, query string, filters map[string]interface{}, dest interface{}) bool {
	return c.manager.Get(ctx, c.Key(query, filters), dest).Found
}

// StoreResults caches results under the namespace TTL policy.
func (c *QueryResultCache) StoreResults(ctx context.Context, query string, filters map[string]interface{}, results interface{}, tags ...string) bool {
	return c.manager.Set(ctx, c.Key(query, filters), results, SetOptions{
		Namespace: NamespaceQuery,
		Tags:      tags,
	})
}

// InvalidateTag removes every cached query result carrying the tag
// (e.g. "product:<id>" after a price change).
func (c *QueryResultCache) InvalidateTag(ctx context.Context, tag string) int {
	return c.manager.InvalidateByTags(ctx, []string{tag})
}

// ResponseCache caches LLM responses under the "llm" namespace.
// High-confidence responses get the long namespace TTL; provisional
// ones expire quickly so they can be recomputed.
type ResponseCache struct {
	manager *Manager
	matcher SemanticMatcher
}

// NewResponseCache creates the LLM-response facade. A nil matcher
// defaults to the no-op matcher.
func NewResponseCache(manager *Manager, matcher SemanticMatcher) *ResponseCache {
	if matcher == nil {
		matcher = NewNoopSemanticMatcher()
	}
	return &ResponseCache{manager: manager, matcher: matcher}
}

// Key derives the cache key for a prompt/model pair.
func (c *ResponseCache) Key(prompt, model string) string {
	return MakeKey(NamespaceLLM, prompt, map[string]interface{}{"model": model})
}

// GetResponse returns a cached response for the prompt. On an
// exact-key miss the semantic matcher gets a chance; today that is
// always empty.
func (c *ResponseCache) GetResponse(ctx context.Context, prompt, model string) (string, bool) {
	var response string
	if c.manager.Get(ctx, c.Key(prompt, model), &response).Found {
		return response, true
	}

	if key, ok, err := c.matcher.FindSimilar(ctx, NamespaceLLM, prompt); err == nil && ok {
		if c.manager.Get(ctx, key, &response).Found {
			return response, true
		}
	}
	return "", false
}

// StoreResponse caches a response, choosing the TTL tier from the
// confidence score.
func (c *ResponseCache) StoreResponse(ctx context.Context, prompt, model, response string, confidence float64) bool {
	opts := SetOptions{
		Namespace: NamespaceLLM,
		Tags:      []string{"model:" + model},
	}
	if confidence < highConfidence {
		opts.TTL = provisionalResponseTTL
	}
	return c.manager.Set(ctx, c.Key(prompt, model), response, opts)
}

// InvalidateModel drops every cached response produced by a model,
// typically after a model upgrade.
func (c *ResponseCache) InvalidateModel(ctx context.Context, model string) int {
	return c.manager.InvalidateByTags(ctx, []string{"model:" + model})
}

// ConnectionInfo is the presence record cached per user.
type ConnectionInfo struct {
	UserID       string    `json:"user_id"`
	ConnectionID string    `json:"connection_id"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastSeen     time.Time `json:"last_seen"`
}

// PresenceCache caches live connection/presence state under the
// "websocket" namespace. Entries are short-lived by policy; a client
// that stops refreshing simply ages out.
type PresenceCache struct {
	manager *Manager
}

// NewPresenceCache creates the connection/presence facade.
func NewPresenceCache(manager *Manager) *PresenceCache {
	return &PresenceCache{manager: manager}
}

func (c *PresenceCache) key(userID string) string {
	return MakeKey(NamespaceWebsocket, userID, nil)
}

// TrackConnection records or refreshes a user's presence.
func (c *PresenceCache) TrackConnection(ctx context.Context, info ConnectionInfo) bool {
	return c.manager.Set(ctx, c.key(info.UserID), info, SetOptions{
		Namespace: NamespaceWebsocket,
		Tags:      []string{"user:" + info.UserID},
	})
}

// GetConnection returns a user's presence record, if still live.
func (c *PresenceCache) GetConnection(ctx context.Context, userID string) (ConnectionInfo, bool) {
	return GetTyped[ConnectionInfo](ctx, c.manager, c.key(userID))
}

// DropConnection removes a user's presence record.
func (c *PresenceCache) DropConnection(ctx context.Context, userID string) bool {
	return c.manager.Delete(ctx, c.key(userID))
}

// Session is the user-session record cached per session ID.
type Session struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"user_id"`
	CreatedAt time.Time              `json:"created_at"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// SessionCache caches user sessions under the "session" namespace,
// tagged per user so a logout-everywhere can invalidate all of a
// user's sessions at once.
type SessionCache struct {
	manager *Manager
}

// NewSessionCache creates the session facade.
func NewSessionCache(manager *Manager) *SessionCache {
	return &SessionCache{manager: manager}
}

func (c *SessionCache) key(sessionID string) string {
	return MakeKey(NamespaceSession, sessionID, nil)
}

// StoreSession caches a session under the namespace TTL policy.
func (c *SessionCache) StoreSession(ctx context.Context, session Session) bool {
	return c.manager.Set(ctx, c.key(session.ID), session, SetOptions{
		Namespace: NamespaceSession,
		Tags:      []string{"user:" + session.UserID},
	})
}

// GetSession returns the session for the given ID.
func (c *SessionCache) GetSession(ctx context.Context, sessionID string) (Session, bool) {
	return GetTyped[Session](ctx, c.manager, c.key(sessionID))
}

// DeleteSession removes a single session.
func (c *SessionCache) DeleteSession(ctx context.Context, sessionID string) bool {
	return c.manager.Delete(ctx, c.key(sessionID))
}

// InvalidateUser removes every cached session and presence record for
// a user and returns how many entries were dropped.
func (c *SessionCache) InvalidateUser(ctx context.Context, userID string) int {
	return c.manager.InvalidateByTags(ctx, []string{"user:" + userID})
}
