package auth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offsoc/copr/internal/directory"
	"github.com/offsoc/copr/internal/session"
)

const testProviderURL = "https://id.example.com"

type fakeClient struct {
	state     string
	challenge string
	req       ExchangeRequest
}

func (f *fakeClient) Name() string { return "fake" }

func (f *fakeClient) AuthCodeURL(state, codeChallenge string, req ExchangeRequest) string {
	f.state, f.challenge, f.req = state, codeChallenge, req
	return "https://id.example.com/authorize?state=" + url.QueryEscape(state)
}

func (f *fakeClient) ExchangeCode(context.Context, string, string) (*Principal, error) {
	return nil, errors.New("not used")
}

type countingRecorder struct {
	logins map[string]int
}

func (r *countingRecorder) RecordLogin(backend, outcome string) {
	if r.logins == nil {
		r.logins = map[string]int{}
	}
	r.logins[backend+"/"+outcome]++
}

// failingDirectory fails every call.
type failingDirectory struct{}

var errDirectoryDown = errors.New("directory down")

func (failingDirectory) Lookup(context.Context, string) (*directory.User, error) {
	return nil, errDirectoryDown
}

func (failingDirectory) Create(context.Context, string, string, string) (*directory.User, error) {
	return nil, errDirectoryDown
}

func (failingDirectory) Update(context.Context, *directory.User) error { return errDirectoryDown }

func (failingDirectory) SetGroups(context.Context, string, []string) error { return errDirectoryDown }

func newTestFederated(dir directory.Directory, allow *AllowList) (*Federated, *fakeClient) {
	client := &fakeClient{}
	return NewFederated(FederatedOptions{
		Client:      client,
		Directory:   dir,
		AllowList:   allow,
		ProviderURL: testProviderURL,
		DefaultPage: "/coprs/",
	}), client
}

func TestAllowList(t *testing.T) {
	tests := []struct {
		name     string
		list     *AllowList
		username string
		want     bool
	}{
		{"nil list allows", nil, "alice", true},
		{"not enforced allows anyone", NewAllowList(false, []string{"bob"}), "alice", true},
		{"enforced member", NewAllowList(true, []string{"alice"}), "alice", true},
		{"enforced non-member", NewAllowList(true, []string{"alice"}), "mallory", false},
		{"enforced empty list", NewAllowList(true, nil), "alice", false},
		{"empty username never allowed", NewAllowList(false, nil), "", false},
		{"empty username on nil list", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.list.Allowed(tt.username))
		})
	}
}

func TestNormalizeIdentity(t *testing.T) {
	tests := []struct {
		raw, provider, want string
	}{
		{"http://alice.example.com/", "example.com", "alice"},
		{"http://alice.id.example.com/", "https://id.example.com", "alice"},
		{"https://alice.id.example.com", "https://id.example.com/", "alice"},
		{"bob", "example.com", "bob"},
		{"http://alice.other.org/", "example.com", "alice.other.org"},
		{"http://alice.example.com/", "", "alice.example.com"},
		{"://broken", "example.com", "://broken"},
		{"", "example.com", ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeIdentity(tt.raw, tt.provider))
		})
	}
}

func TestExtractGroups(t *testing.T) {
	assert.Nil(t, ExtractGroups(nil))
	assert.Nil(t, ExtractGroups(&Principal{Identity: "alice"}))

	empty := ExtractGroups(&Principal{Identity: "alice", Teams: &Teams{}})
	require.NotNil(t, empty)
	assert.Equal(t, GroupSourceFederated, empty.Source)
	assert.NotNil(t, empty.Names)
	assert.Empty(t, empty.Names)

	teams := []string{"packager", "provenpackager"}
	got := ExtractGroups(&Principal{Identity: "alice", Teams: &Teams{Names: teams}})
	require.NotNil(t, got)
	assert.Equal(t, teams, got.Names)

	got.Names[0] = "changed"
	assert.Equal(t, "packager", teams[0])
}

func TestSafeNext(t *testing.T) {
	tests := []struct {
		next, want string
	}{
		{"", "/home"},
		{"/coprs/alice/", "/coprs/alice/"},
		{"/coprs/?page=2", "/coprs/?page=2"},
		{"https://evil.example.com/", "/home"},
		{"//evil.example.com/", "/home"},
		{`/\evil.example.com`, "/home"},
		{"relative/path", "/home"},
	}
	for _, tt := range tests {
		t.Run(tt.next, func(t *testing.T) {
			assert.Equal(t, tt.want, SafeNext(tt.next, "/home"))
		})
	}
}

func TestCodeChallenge(t *testing.T) {
	// RFC 7636 appendix B.
	assert.Equal(t,
		"E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		CodeChallenge("dBjftJeZ4CVP-mJ92K1qs_y4TaqiIUiLS4Mlmp9bxe8"),
	)
}

func TestFederatedMaterializeUser(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewMemoryDirectory()
	f, _ := newTestFederated(dir, nil)

	p := &Principal{Identity: "http://alice.id.example.com/", Email: "alice@example.com", Timezone: "Europe/Prague"}

	u, err := f.MaterializeUser(ctx, p)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, "Europe/Prague", u.Timezone)

	p.Email = "alice@new.example.com"
	p.Timezone = "UTC"
	again, err := f.MaterializeUser(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.ID)
	assert.Equal(t, "alice@new.example.com", again.Email)
	assert.Equal(t, "UTC", again.Timezone)
	assert.Equal(t, 1, dir.Len())

	stored, err := dir.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@new.example.com", stored.Email)
}

func TestFederatedMaterializeUserDirectoryError(t *testing.T) {
	f, _ := newTestFederated(failingDirectory{}, nil)
	_, err := f.MaterializeUser(context.Background(), &Principal{Identity: "alice"})
	assert.ErrorIs(t, err, errDirectoryDown)
}

func TestFederatedInitiateLogin(t *testing.T) {
	f, client := newTestFederated(directory.NewMemoryDirectory(), nil)

	d, err := f.InitiateLogin(LoginRequest{Next: "/coprs/add"})
	require.NoError(t, err)
	require.NotNil(t, d.Pending)
	assert.Nil(t, d.Flash)
	assert.Equal(t, "/coprs/add", d.Pending.Next)
	assert.Equal(t, client.state, d.Pending.State)
	assert.Equal(t, CodeChallenge(d.Pending.CodeVerifier), client.challenge)
	assert.True(t, strings.HasPrefix(d.RedirectURL, "https://id.example.com/authorize"))
	assert.Equal(t, []string{"email", "timezone"}, client.req.Attributes)
	require.Len(t, client.req.Extensions, 1)
	assert.Equal(t, []string{AllGroups}, client.req.Extensions[0].Values)
}

func TestInitiateLoginWhenAuthenticated(t *testing.T) {
	current := &directory.User{Username: "alice"}
	f, client := newTestFederated(directory.NewMemoryDirectory(), nil)
	k := NewKerberos(KerberosOptions{Directory: directory.NewMemoryDirectory(), Enabled: true, DefaultPage: "/coprs/"})

	for _, b := range []Backend{f, k} {
		t.Run(b.Name(), func(t *testing.T) {
			for i := 0; i < 2; i++ {
				d, err := b.InitiateLogin(LoginRequest{CurrentUser: current, Next: "/coprs/alice/"})
				require.NoError(t, err)
				assert.Equal(t, "/coprs/alice/", d.RedirectURL)
				assert.Nil(t, d.Pending)
				assert.Nil(t, d.Flash)
			}
		})
	}
	assert.Empty(t, client.state)
}

func TestFederatedCompleteLogin(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewMemoryDirectory()
	rec := &countingRecorder{}
	f := NewFederated(FederatedOptions{
		Client:      &fakeClient{},
		Directory:   dir,
		ProviderURL: testProviderURL,
		Recorder:    rec,
	})
	sess := session.NewValues()
	sess.Set(MarkerKerberos, "stale")

	res, err := f.CompleteLogin(ctx, sess, &Principal{
		Identity: "http://alice.id.example.com/",
		Email:    "alice@example.com",
		Teams:    &Teams{Names: []string{"packager", "admins"}},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeLoggedIn, res.Outcome)
	require.NotNil(t, res.User)
	assert.Equal(t, "alice", res.User.Username)

	raw, ok := sess.Get(MarkerFederated)
	assert.True(t, ok)
	assert.Equal(t, "http://alice.id.example.com/", raw)
	_, ok = sess.Get(MarkerKerberos)
	assert.False(t, ok)

	username, ok := f.CurrentUsername(sess)
	assert.True(t, ok)
	assert.Equal(t, "alice", username)

	stored, err := dir.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"admins", "packager"}, stored.Groups)
	assert.Equal(t, 1, rec.logins["federated/logged_in"])
}

func TestFederatedCompleteLoginGroups(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewMemoryDirectory()
	f, _ := newTestFederated(dir, nil)

	_, err := f.CompleteLogin(ctx, session.NewValues(), &Principal{
		Identity: "alice", Email: "a@example.com", Teams: &Teams{Names: []string{"packager"}},
	})
	require.NoError(t, err)

	// No teams payload leaves stored memberships alone.
	_, err = f.CompleteLogin(ctx, session.NewValues(), &Principal{Identity: "alice", Email: "a@example.com"})
	require.NoError(t, err)
	u, err := dir.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"packager"}, u.Groups)

	// An empty payload means member of nothing.
	_, err = f.CompleteLogin(ctx, session.NewValues(), &Principal{Identity: "alice", Email: "a@example.com", Teams: &Teams{}})
	require.NoError(t, err)
	u, err = dir.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, u.Groups)
}

// flakyGroups fails the first SetGroups call.
type flakyGroups struct {
	*directory.MemoryDirectory
	failed bool
}

func (d *flakyGroups) SetGroups(ctx context.Context, username string, groups []string) error {
	if !d.failed {
		d.failed = true
		return errDirectoryDown
	}
	return d.MemoryDirectory.SetGroups(ctx, username, groups)
}

func TestFederatedCompleteLoginRetriesGroupsAfterFailure(t *testing.T) {
	ctx := context.Background()
	dir := &flakyGroups{MemoryDirectory: directory.NewMemoryDirectory()}
	f, _ := newTestFederated(dir, nil)
	p := &Principal{Identity: "alice", Email: "alice@example.com", Teams: &Teams{Names: []string{"packager"}}}

	sess := session.NewValues()
	_, err := f.CompleteLogin(ctx, sess, p)
	require.ErrorIs(t, err, errDirectoryDown)
	assert.False(t, sess.Dirty())
	assert.Equal(t, 1, dir.Len())

	res, err := f.CompleteLogin(ctx, sess, p)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLoggedIn, res.Outcome)
	assert.Equal(t, 1, dir.Len())

	u, err := dir.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"packager"}, u.Groups)
}

func TestCompleteLoginDenied(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewMemoryDirectory()
	rec := &countingRecorder{}
	f := NewFederated(FederatedOptions{
		Client:      &fakeClient{},
		Directory:   dir,
		AllowList:   NewAllowList(true, []string{"alice"}),
		ProviderURL: testProviderURL,
		Recorder:    rec,
	})
	sess := session.NewValues()

	res, err := f.CompleteLogin(ctx, sess, &Principal{Identity: "mallory", Email: "m@example.com"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDenied, res.Outcome)
	assert.Equal(t, "mallory", res.Username)
	assert.Nil(t, res.User)
	assert.False(t, sess.Dirty())
	assert.Zero(t, dir.Len())
	assert.Equal(t, 1, rec.logins["federated/denied"])
}

func TestCompleteLoginRequiresIdentity(t *testing.T) {
	f, _ := newTestFederated(directory.NewMemoryDirectory(), nil)
	_, err := f.CompleteLogin(context.Background(), session.NewValues(), &Principal{})
	assert.ErrorIs(t, err, ErrNoIdentity)

	k := NewKerberos(KerberosOptions{Directory: directory.NewMemoryDirectory()})
	_, err = k.CompleteLogin(context.Background(), session.NewValues(), nil)
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestCompleteLoginDirectoryError(t *testing.T) {
	rec := &countingRecorder{}
	k := NewKerberos(KerberosOptions{Directory: failingDirectory{}, Recorder: rec})
	sess := session.NewValues()

	_, err := k.CompleteLogin(context.Background(), sess, &Principal{Identity: "carol"})
	assert.ErrorIs(t, err, errDirectoryDown)
	assert.False(t, sess.Dirty())
	assert.Equal(t, 1, rec.logins["kerberos/error"])
}

func TestKerberosProvisionsWhenSoleBackend(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewMemoryDirectory()
	k := NewKerberos(KerberosOptions{
		Directory:   dir,
		Enabled:     true,
		EmailDomain: "corp.example",
	})
	sess := session.NewValues()

	res, err := k.CompleteLogin(ctx, sess, &Principal{Identity: "carol"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeLoggedIn, res.Outcome)
	assert.Equal(t, "carol@corp.example", res.User.Email)
	assert.Empty(t, res.User.Timezone)

	username, ok := k.CurrentUsername(sess)
	assert.True(t, ok)
	assert.Equal(t, "carol", username)
	assert.Equal(t, 1, dir.Len())
}

func TestKerberosRefusesUnknownWhenFederatedEnabled(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewMemoryDirectory()
	k := NewKerberos(KerberosOptions{
		Directory:        dir,
		Enabled:          true,
		FederatedEnabled: true,
		EmailDomain:      "corp.example",
	})
	sess := session.NewValues()

	u, err := k.MaterializeUser(ctx, "dave")
	require.NoError(t, err)
	assert.Nil(t, u)

	res, err := k.CompleteLogin(ctx, sess, &Principal{Identity: "dave"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRefused, res.Outcome)
	assert.False(t, sess.Dirty())
	assert.Zero(t, dir.Len())

	// Existing users are returned unchanged.
	_, err = dir.Create(ctx, "dave", "dave@example.com", "UTC")
	require.NoError(t, err)
	u, err = k.MaterializeUser(ctx, "dave")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "dave@example.com", u.Email)
	assert.Equal(t, "UTC", u.Timezone)
}

func TestKerberosInitiateLogin(t *testing.T) {
	k := NewKerberos(KerberosOptions{Directory: directory.NewMemoryDirectory(), Enabled: true})
	d, err := k.InitiateLogin(LoginRequest{Next: "/coprs/add"})
	require.NoError(t, err)
	assert.Equal(t, "/krb5/login?next=%2Fcoprs%2Fadd", d.RedirectURL)
	assert.Nil(t, d.Flash)
	assert.Nil(t, d.Pending)
}

func TestKerberosInitiateLoginNotConfigured(t *testing.T) {
	k := NewKerberos(KerberosOptions{Directory: directory.NewMemoryDirectory(), DefaultPage: "/coprs/"})

	d, err := k.InitiateLogin(LoginRequest{Next: "/coprs/add"})
	require.NoError(t, err)
	assert.Equal(t, "/coprs/", d.RedirectURL)
	require.NotNil(t, d.Flash)
	assert.Equal(t, FlashError, d.Flash.Category)
	assert.Equal(t, "Unable to pick krb5 login page", d.Flash.Message)
}

func TestLogoutIdempotent(t *testing.T) {
	f, _ := newTestFederated(directory.NewMemoryDirectory(), nil)
	k := NewKerberos(KerberosOptions{Directory: directory.NewMemoryDirectory()})

	anon := session.NewValues()
	f.Logout(anon)
	k.Logout(anon)
	assert.False(t, anon.Dirty())

	sess := session.NewValues()
	sess.Set(MarkerFederated, "alice")
	f.Logout(sess)
	f.Logout(sess)
	_, ok := f.CurrentUsername(sess)
	assert.False(t, ok)
	assert.Zero(t, sess.Len())
}

func TestSelectAndRegistry(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	f, _ := newTestFederated(dir, NewAllowList(true, []string{"alice"}))
	k := NewKerberos(KerberosOptions{Directory: dir})

	r, err := Select(true, f, k)
	require.NoError(t, err)
	assert.Equal(t, BackendFederated, r.Primary().Name())

	b, err := r.Get(BackendKerberos)
	require.NoError(t, err)
	assert.Same(t, k, b)

	_, err = r.Get("saml")
	assert.ErrorIs(t, err, ErrUnknownBackend)

	sess := session.NewValues()
	sess.Set(MarkerKerberos, "carol")
	username, backend, ok := r.CurrentUsername(sess)
	assert.True(t, ok)
	assert.Equal(t, "carol", username)
	assert.Equal(t, BackendKerberos, backend)

	assert.True(t, r.IsAllowed("alice"))
	assert.False(t, r.IsAllowed("carol"))

	r.Logout(sess)
	_, _, ok = r.CurrentUsername(sess)
	assert.False(t, ok)
	r.Logout(nil)

	kr, err := Select(false, nil, k)
	require.NoError(t, err)
	assert.Equal(t, BackendKerberos, kr.Primary().Name())
	_, err = kr.Get(BackendFederated)
	assert.ErrorIs(t, err, ErrUnknownBackend)

	_, err = Select(true, nil, k)
	assert.ErrorIs(t, err, ErrUnknownBackend)
	_, err = Select(false, f, nil)
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
