// Package localauth is a session-scoped auth provider that persists user
// profiles under users/{uid} in the realtime tree.
package localauth

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cnc-lab/talk.git/internal/backend"
)

const usersPath = "users"

type profile struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

type Provider struct {
	mu       sync.RWMutex
	db       backend.RealtimeDB
	sessions map[string]string // sid -> uid
}

func New(db backend.RealtimeDB) *Provider {
	return &Provider{db: db, sessions: map[string]string{}}
}

// SignIn resolves name to an existing profile or creates a new one, and
// opens a session for it.
func (p *Provider) SignIn(name string) (backend.User, string, error) {
	uid := p.findByName(name)
	if uid == "" {
		uid = uuid.NewString()
		if err := p.db.Write(usersPath+"/"+uid, profile{Name: name}); err != nil {
			return backend.User{}, "", err
		}
		log.Info().Str("uid", uid).Str("name", name).Msg("new user profile")
	}
	sid := uuid.NewString()
	p.mu.Lock()
	p.sessions[sid] = uid
	p.mu.Unlock()
	u, _ := p.lookup(uid)
	return u, sid, nil
}

func (p *Provider) findByName(name string) string {
	kids, err := p.db.Children(usersPath)
	if err != nil {
		return ""
	}
	for _, k := range kids {
		var pr profile
		if json.Unmarshal(k.Raw, &pr) == nil && pr.Name == name {
			return k.Key
		}
	}
	return ""
}

func (p *Provider) lookup(uid string) (backend.User, bool) {
	kids, err := p.db.Children(usersPath)
	if err != nil {
		return backend.User{}, false
	}
	for _, k := range kids {
		if k.Key != uid {
			continue
		}
		var pr profile
		if json.Unmarshal(k.Raw, &pr) != nil {
			return backend.User{}, false
		}
		return backend.User{UID: uid, DisplayName: pr.Name, PhotoURL: pr.Image}, true
	}
	return backend.User{}, false
}

func (p *Provider) CurrentUser(sid string) (backend.User, bool) {
	p.mu.RLock()
	uid, ok := p.sessions[sid]
	p.mu.RUnlock()
	if !ok {
		return backend.User{}, false
	}
	return p.lookup(uid)
}

func (p *Provider) SignOut(sid string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.sessions[sid]; !ok {
		return backend.ErrNoSession
	}
	delete(p.sessions, sid)
	return nil
}

func (p *Provider) UpdateProfile(sid string, patch backend.ProfilePatch) (backend.User, error) {
	p.mu.RLock()
	uid, ok := p.sessions[sid]
	p.mu.RUnlock()
	if !ok {
		return backend.User{}, backend.ErrNoSession
	}
	fields := map[string]any{}
	if patch.DisplayName != nil {
		fields["name"] = *patch.DisplayName
	}
	if patch.PhotoURL != nil {
		fields["image"] = *patch.PhotoURL
	}
	if len(fields) > 0 {
		if err := p.db.Update(usersPath+"/"+uid, fields); err != nil {
			return backend.User{}, err
		}
	}
	u, _ := p.lookup(uid)
	return u, nil
}
