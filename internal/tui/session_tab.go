package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spotifyauth/tokenkeeper/internal/auth/spotify"
	"github.com/spotifyauth/tokenkeeper/internal/util"
	"github.com/spotifyauth/tokenkeeper/internal/webapi"
	sdkAuth "github.com/spotifyauth/tokenkeeper/sdk/auth"
)

const snapshotInterval = 5 * time.Second

// sessionSnapshot is what the secret store held at one point in time.
type sessionSnapshot struct {
	accessToken string
	hasRefresh  bool
	expiresAt   time.Time
	hasExpiry   bool
	takenAt     time.Time
}

// sessionTabModel shows the stored credentials and lets the user force a token
// fetch, load the profile or copy the token.
type sessionTabModel struct {
	ctx         context.Context
	manager     *sdkAuth.Manager
	api         *webapi.Client
	description string

	snapshot sessionSnapshot
	now      time.Time
	busy     string
	message  string
	err      error
	profile  *webapi.UserProfile
	width    int
	height   int
}

type (
	clockTickMsg    time.Time
	snapshotMsg     sessionSnapshot
	tokenFetchedMsg struct {
		token string
		err   error
	}
	profileFetchedMsg struct {
		profile *webapi.UserProfile
		err     error
	}
)

func newSessionTabModel(ctx context.Context, manager *sdkAuth.Manager, api *webapi.Client, description string) sessionTabModel {
	return sessionTabModel{ctx: ctx, manager: manager, api: api, description: description, now: time.Now()}
}

func (m sessionTabModel) Init() tea.Cmd {
	return tea.Batch(m.loadSnapshot, clockTick())
}

func clockTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return clockTickMsg(t) })
}

func (m sessionTabModel) loadSnapshot() tea.Msg {
	cache := m.manager.Cache()
	snap := sessionSnapshot{takenAt: time.Now()}
	snap.accessToken, _ = cache.CurrentAccessToken(m.ctx)
	_, snap.hasRefresh = cache.StoredRefreshToken(m.ctx)
	snap.expiresAt, snap.hasExpiry = cache.ExpiresAt(m.ctx)
	return snapshotMsg(snap)
}

func (m sessionTabModel) fetchToken() tea.Msg {
	token, err := m.manager.ValidToken(m.ctx)
	return tokenFetchedMsg{token: token, err: err}
}

func (m sessionTabModel) fetchProfile() tea.Msg {
	if m.api == nil {
		return profileFetchedMsg{err: fmt.Errorf("profile lookup unavailable")}
	}
	profile, err := m.api.CurrentUserProfile(m.ctx)
	return profileFetchedMsg{profile: profile, err: err}
}

func (m sessionTabModel) Update(msg tea.Msg) (sessionTabModel, tea.Cmd) {
	switch msg := msg.(type) {
	case clockTickMsg:
		m.now = time.Time(msg)
		if m.now.Sub(m.snapshot.takenAt) >= snapshotInterval {
			return m, tea.Batch(m.loadSnapshot, clockTick())
		}
		return m, clockTick()
	case snapshotMsg:
		m.snapshot = sessionSnapshot(msg)
		return m, nil
	case tokenFetchedMsg:
		m.busy = ""
		m.err = msg.err
		if msg.err == nil {
			m.message = "Access token is valid"
		}
		return m, m.loadSnapshot
	case profileFetchedMsg:
		m.busy = ""
		m.err = msg.err
		if msg.err == nil {
			m.profile = msg.profile
			m.message = "Profile loaded"
		}
		return m, m.loadSnapshot
	case tea.KeyMsg:
		if m.busy != "" {
			return m, nil
		}
		switch msg.String() {
		case "r":
			m.busy, m.message, m.err = "Fetching a valid token...", "", nil
			return m, m.fetchToken
		case "p":
			m.busy, m.message, m.err = "Loading profile...", "", nil
			return m, m.fetchProfile
		case "y":
			if m.snapshot.accessToken == "" {
				m.err = spotify.ErrMissingToken
				return m, nil
			}
			if err := clipboard.WriteAll(m.snapshot.accessToken); err != nil {
				m.err = fmt.Errorf("clipboard unavailable: %w", err)
				return m, nil
			}
			m.message, m.err = "Access token copied to clipboard", nil
			return m, nil
		}
	}
	return m, nil
}

func (m *sessionTabModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

func (m sessionTabModel) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Session"))
	sb.WriteString("\n")

	rows := [][2]string{{"Secret store", m.description}}
	snap := m.snapshot
	if snap.accessToken == "" {
		rows = append(rows, [2]string{"Status", errorStyle.Render("not signed in")})
	} else {
		rows = append(rows, [2]string{"Access token", util.MaskSecret(snap.accessToken)})
		refresh := warningStyle.Render("none")
		if snap.hasRefresh {
			refresh = successStyle.Render("stored")
		}
		rows = append(rows, [2]string{"Refresh token", refresh})
		rows = append(rows, [2]string{"Expires", m.renderExpiry()})
	}
	var body strings.Builder
	for _, row := range rows {
		body.WriteString(labelStyle.Render(row[0]))
		body.WriteString(valueStyle.Render(row[1]))
		body.WriteString("\n")
	}
	if p := m.profile; p != nil {
		body.WriteString("\n")
		body.WriteString(labelStyle.Render("User"))
		body.WriteString(valueStyle.Render(fmt.Sprintf("%s (%s)", p.DisplayName, p.ID)))
		body.WriteString("\n")
		body.WriteString(labelStyle.Render("Plan"))
		body.WriteString(valueStyle.Render(fmt.Sprintf("%s, %s, %d followers", p.Product, p.Country, p.Followers)))
		body.WriteString("\n")
	}
	sb.WriteString(sectionStyle.Render(strings.TrimRight(body.String(), "\n")))
	sb.WriteString("\n\n")

	switch {
	case m.busy != "":
		sb.WriteString(warningStyle.Render(m.busy))
	case m.err != nil:
		sb.WriteString(errorStyle.Render(describeError(m.err)))
	case m.message != "":
		sb.WriteString(successStyle.Render(m.message))
	}
	sb.WriteString("\n")
	sb.WriteString(helpStyle.Render("r: ensure valid token • p: load profile • y: copy token"))
	return sb.String()
}

func (m sessionTabModel) renderExpiry() string {
	if !m.snapshot.hasExpiry {
		return warningStyle.Render("unknown (will refresh on next use)")
	}
	remaining := m.snapshot.expiresAt.Sub(m.now).Round(time.Second)
	label := fmt.Sprintf("%s (in %s)", m.snapshot.expiresAt.Local().Format(time.Kitchen), remaining)
	switch {
	case remaining <= 0:
		return errorStyle.Render(fmt.Sprintf("expired %s ago", -remaining))
	case remaining <= sdkAuth.ExpirySkew:
		return warningStyle.Render(label + ", refresh due")
	default:
		return successStyle.Render(label)
	}
}

func describeError(err error) string {
	if apiErr, ok := errors.AsType[*webapi.APIError](err); ok {
		return apiErr.Error()
	}
	if spotify.KindOf(err) == "" {
		if _, ok := errors.AsType[*spotify.AuthenticationError](err); !ok {
			return err.Error()
		}
	}
	return spotify.GetUserFriendlyMessage(err)
}
