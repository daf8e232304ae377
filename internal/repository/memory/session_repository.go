package memory

import (
	"ragout-bot/internal/entity"

	"github.com/patrickmn/go-cache"
)

// SessionRepository keeps sessions in process memory. Sessions never expire by
// time; only an explicit Delete (user reset) removes them.
type SessionRepository struct {
	cache *cache.Cache
}

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		cache: cache.New(cache.NoExpiration, 0),
	}
}

func (r *SessionRepository) Save(session *entity.Session) {
	r.cache.Set(string(session.UserID), session, cache.NoExpiration)
}

func (r *SessionRepository) Get(userID entity.UserID) (*entity.Session, bool) {
	if x, found := r.cache.Get(string(userID)); found {
		return x.(*entity.Session), true
	}
	return nil, false
}

func (r *SessionRepository) Delete(userID entity.UserID) {
	r.cache.Delete(string(userID))
}

func (r *SessionRepository) Count() int {
	return r.cache.ItemCount()
}
