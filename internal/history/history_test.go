package history

import (
	"bytes"
	"log"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/tandem/internal/delta"
	"github.com/hpungsan/tandem/internal/errors"
)

func newHistory(t *testing.T, name, text string, opts ...Option) *History {
	t.Helper()
	h, err := New(name, delta.FromText(text), opts...)
	require.NoError(t, err)
	return h
}

func text(t *testing.T, h *History) string {
	t.Helper()
	s, err := h.GetText()
	require.NoError(t, err)
	return s
}

func TestNew(t *testing.T) {
	h := newHistory(t, "server", "abc", WithInitialRev(5))
	assert.Equal(t, "server", h.Name())
	assert.Equal(t, 5, h.InitialRev())
	assert.Equal(t, 5, h.CurrentRev())
	assert.Equal(t, DefaultSavepointRate, h.SavepointRate())
	assert.Equal(t, "abc", text(t, h))

	_, err := New("", delta.FromText("x"))
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
	_, err = New("*", delta.FromText("x"))
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
	_, err = New("server", delta.New().Retain(1, nil))
	assert.True(t, errors.Is(err, errors.ErrInvalidContent))
}

func TestAppend(t *testing.T) {
	h := newHistory(t, "server", "world")

	rev, err := h.Append([]delta.Change{delta.New().Insert("hello ", nil)}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, rev)

	rev, err = h.Append([]delta.Change{
		delta.New().Retain(11, nil).Insert("!", nil),
		delta.New().Delete(1).Insert("H", nil),
	}, "")
	require.NoError(t, err)
	assert.Equal(t, 3, rev)
	assert.Equal(t, "Hello world!", text(t, h))

	old, err := h.GetTextAt(1)
	require.NoError(t, err)
	assert.Equal(t, "hello world", old)

	changes, err := h.GetChangesFromTo(1, 3)
	require.NoError(t, err)
	assert.Len(t, changes, 2)

	c, err := h.GetChange(0)
	require.NoError(t, err)
	assert.Equal(t, "hello ", c.Ops[0].Text)
}

func TestAppend_InvalidChangeLeavesHistoryUntouched(t *testing.T) {
	h := newHistory(t, "server", "abc")
	_, err := h.Append([]delta.Change{
		delta.New().Insert("x", nil),
		delta.New().Retain(10, nil).Delete(1),
	}, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidChange))
	assert.Equal(t, 0, h.CurrentRev())
	assert.Equal(t, "abc", text(t, h))
}

func TestRevisionRange(t *testing.T) {
	h := newHistory(t, "server", "abc", WithInitialRev(2))
	_, err := h.Append([]delta.Change{delta.New().Insert("x", nil)}, "")
	require.NoError(t, err)

	for _, rev := range []int{1, 4} {
		_, err := h.GetContentAt(rev)
		assert.True(t, errors.Is(err, errors.ErrInvalidRange), "rev %d", rev)
	}
	_, err = h.GetChangesFromTo(3, 2)
	assert.True(t, errors.Is(err, errors.ErrInvalidRange))
	_, err = h.GetChange(3)
	assert.True(t, errors.Is(err, errors.ErrInvalidRange))
	_, err = h.Merge(SyncRequest{BaseRev: 9, Branch: "client"})
	assert.True(t, errors.Is(err, errors.ErrInvalidRange))
}

func TestMerge_Converges(t *testing.T) {
	server := newHistory(t, "server", "world")
	client := newHistory(t, "client", "world")

	_, err := server.Append([]delta.Change{delta.New().Insert("hello ", nil)}, "")
	require.NoError(t, err)
	_, err = client.Append([]delta.Change{delta.New().Retain(5, nil).Insert("world", nil)}, "")
	require.NoError(t, err)

	pending, err := client.GetChangesFrom(0)
	require.NoError(t, err)
	res, err := server.Merge(SyncRequest{BaseRev: 0, Branch: "client", Changes: pending})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rev)
	assert.Equal(t, "hello worldworld", res.Content.Text())
	require.Len(t, res.ResDeltas, 1)
	require.Len(t, res.ReqDeltas, 1)
	assert.True(t, delta.Equal(res.ReqDeltas[0], delta.New().Retain(11, nil).Insert("world", nil)), "reqDeltas[0] = %s", res.ReqDeltas[0])

	back, err := client.Merge(SyncRequest{BaseRev: 0, Branch: "server", Changes: res.ResDeltas})
	require.NoError(t, err)
	assert.Equal(t, "hello worldworld", back.Content.Text())
	assert.Equal(t, text(t, server), text(t, client))
}

func TestMerge_SamePositionInsertsConverge(t *testing.T) {
	server := newHistory(t, "server", "ab")
	client := newHistory(t, "client", "ab")

	_, err := server.Append([]delta.Change{delta.New().Retain(1, nil).Insert("S", nil)}, "")
	require.NoError(t, err)
	_, err = client.Append([]delta.Change{delta.New().Retain(1, nil).Insert("C", nil)}, "")
	require.NoError(t, err)

	fromClient, _ := client.GetChangesFrom(0)
	fromServer, _ := server.GetChangesFrom(0)

	res, err := server.Merge(SyncRequest{BaseRev: 0, Branch: "client", Changes: fromClient})
	require.NoError(t, err)
	back, err := client.Merge(SyncRequest{BaseRev: 0, Branch: "server", Changes: fromServer})
	require.NoError(t, err)

	assert.Equal(t, "aCSb", res.Content.Text())
	assert.Equal(t, "aCSb", back.Content.Text())
}

func TestMerge_BranchRules(t *testing.T) {
	h := newHistory(t, "server", "abc")
	_, err := h.Append([]delta.Change{delta.New().Insert("x", nil)}, "")
	require.NoError(t, err)

	_, err = h.Merge(SyncRequest{BaseRev: 0, Branch: "", Changes: nil})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = h.Merge(SyncRequest{BaseRev: 0, Branch: "*", Changes: nil})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = h.Merge(SyncRequest{BaseRev: 0, Branch: "server", Changes: nil})
	assert.True(t, errors.Is(err, errors.ErrConflict))

	// Nothing unseen: a wildcard may append.
	rev, err := h.Append([]delta.Change{delta.New().Insert("y", nil)}, "*")
	require.NoError(t, err)
	assert.Equal(t, 2, rev)
	assert.Equal(t, "yxabc", text(t, h))
}

func TestMerge_RequestSeesOnlyItsBase(t *testing.T) {
	h := newHistory(t, "server", "abcdef")
	_, err := h.Append([]delta.Change{delta.New().Delete(2)}, "")
	require.NoError(t, err)

	// The client still sees "abcdef" and deletes "ef".
	res, err := h.Merge(SyncRequest{BaseRev: 0, Branch: "client", Changes: []delta.Change{delta.New().Retain(4, nil).Delete(2)}})
	require.NoError(t, err)
	assert.Equal(t, "cd", res.Content.Text())
	assert.True(t, delta.Equal(res.ReqDeltas[0], delta.New().Retain(2, nil).Delete(2)), "reqDeltas[0] = %s", res.ReqDeltas[0])

	_, err = h.Merge(SyncRequest{BaseRev: 0, Branch: "client", Changes: []delta.Change{delta.New().Retain(7, nil).Delete(1)}})
	assert.True(t, errors.Is(err, errors.ErrInvalidChange))
	assert.Equal(t, 2, h.CurrentRev())
}

func TestSimulateMerge(t *testing.T) {
	h := newHistory(t, "server", "abc")
	req := SyncRequest{BaseRev: 0, Branch: "client", Changes: []delta.Change{delta.New().Insert("x", nil)}}

	res, err := h.SimulateMerge(req)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rev)
	assert.Equal(t, "xabc", res.Content.Text())
	assert.Equal(t, 0, h.CurrentRev())
	assert.Equal(t, "abc", text(t, h))
}

func TestRebase(t *testing.T) {
	h := newHistory(t, "server", "ab", WithSavepointRate(2), WithSavepointCheck(true))
	_, err := h.Append([]delta.Change{delta.New().Insert("1", nil)}, "")
	require.NoError(t, err)
	_, err = h.Append([]delta.Change{
		delta.New().Retain(3, nil).Insert("2", nil),
		delta.New().Retain(1, nil).Insert("3", nil),
		delta.New().Retain(1, nil).Insert("4", nil),
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "143ab2", text(t, h))
	require.Len(t, h.Savepoints(), 3)

	req := SyncRequest{BaseRev: 1, Branch: "client", Changes: []delta.Change{delta.New().Retain(1, nil).Delete(1).Insert("Z", nil)}}

	sim, err := h.SimulateRebase(req)
	require.NoError(t, err)
	assert.Equal(t, 4, h.CurrentRev())

	res, err := h.Rebase(req)
	require.NoError(t, err)
	assert.Equal(t, sim.Content, res.Content)
	assert.Equal(t, 5, res.Rev)
	assert.Len(t, res.ReqDeltas, 1)
	assert.Len(t, res.ResDeltas, 3)
	assert.Equal(t, "143Zb2", res.Content.Text())
	assert.Equal(t, "143Zb2", text(t, h))

	// The log now starts with the kept change, then the request.
	atTwo, err := h.GetTextAt(2)
	require.NoError(t, err)
	assert.Equal(t, "1Zb", atTwo)

	sps := h.Savepoints()
	require.Len(t, sps, 3)
	assert.Equal(t, []int{0, 2, 4}, []int{sps[0].Rev, sps[1].Rev, sps[2].Rev})
	assert.Equal(t, "1Zb", sps[1].Content.Text())
	require.NoError(t, h.CheckSavepoints())
}

func TestSavepoints_Cadence(t *testing.T) {
	h := newHistory(t, "server", "", WithSavepointRate(3))
	for i := 0; i < 7; i++ {
		_, err := h.Append([]delta.Change{delta.New().Insert("x", nil)}, "")
		require.NoError(t, err)
	}
	sps := h.Savepoints()
	require.Len(t, sps, 3)
	assert.Equal(t, 3, sps[1].Rev)
	assert.Equal(t, "xxx", sps[1].Content.Text())
	assert.Equal(t, 6, sps[2].Rev)
}

func TestCheckSavepoints_DetectsCorruption(t *testing.T) {
	var buf bytes.Buffer
	h := newHistory(t, "server", "", WithSavepointRate(2), WithSavepointCheck(true), WithLogger(log.New(&buf, "", 0)))
	_, err := h.Append([]delta.Change{delta.New().Insert("a", nil), delta.New().Insert("b", nil)}, "")
	require.NoError(t, err)
	require.NoError(t, h.CheckSavepoints())

	h.savepoints[1].Content = delta.FromText("corrupt")

	err = h.CheckSavepoints()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConsistencyViolation))

	_, err = h.Append([]delta.Change{delta.New().Insert("c", nil), delta.New().Insert("d", nil)}, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConsistencyViolation))
	assert.Equal(t, 2, h.CurrentRev())
	assert.Contains(t, buf.String(), "CONSISTENCY_VIOLATION")
}

func randomEdit(r *rand.Rand, n int) delta.Change {
	var c delta.Change
	pos := r.Intn(n + 1)
	c = c.Retain(pos, nil)
	if del := r.Intn(n - pos + 1); del > 0 && r.Intn(2) == 0 {
		c = c.Delete(min(del, 3))
	}
	if r.Intn(4) > 0 {
		c = c.Insert(string(rune('a'+r.Intn(26))), nil)
	}
	return c
}

func TestGetContentAt_MatchesFullReplay(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	initial := delta.FromText("seed text")
	h, err := New("server", initial, WithSavepointRate(3), WithSavepointCheck(true))
	require.NoError(t, err)

	branches := []string{"server", "alice", "bob"}
	for i := 0; i < 60; i++ {
		content, err := h.GetContent()
		require.NoError(t, err)
		baseRev := h.CurrentRev()
		branch := branches[r.Intn(len(branches))]
		if branch != "server" && baseRev > 0 && r.Intn(2) == 0 {
			// Sync from a stale base against unseen server changes.
			baseRev = r.Intn(baseRev + 1)
			content, err = h.GetContentAt(baseRev)
			require.NoError(t, err)
		}
		edit := randomEdit(r, delta.ContentLength(content))
		_, err = h.Merge(SyncRequest{BaseRev: baseRev, Branch: branch, Changes: []delta.Change{edit}})
		require.NoError(t, err)
	}

	all, err := h.GetChangesFrom(0)
	require.NoError(t, err)
	scratch := initial
	for rev := 0; rev <= h.CurrentRev(); rev++ {
		if rev > 0 {
			scratch, err = delta.Apply(scratch, all[rev-1])
			require.NoError(t, err)
		}
		got, err := h.GetContentAt(rev)
		require.NoError(t, err)
		require.True(t, delta.Equal(got, scratch), "rev %d", rev)
	}
	require.NoError(t, h.CheckSavepoints())
}

func TestRestore(t *testing.T) {
	h := newHistory(t, "server", "ab", WithSavepointRate(2))
	_, err := h.Append([]delta.Change{
		delta.New().Insert("x", nil),
		delta.New().Retain(3, nil).Insert("y", nil),
		delta.New().Delete(1),
	}, "")
	require.NoError(t, err)

	recorded, err := h.GetChangesFrom(0)
	require.NoError(t, err)

	r, err := Restore("server", delta.FromText("ab"), recorded, WithSavepointRate(2))
	require.NoError(t, err)
	assert.Equal(t, h.CurrentRev(), r.CurrentRev())
	assert.Equal(t, text(t, h), text(t, r))
	assert.Len(t, r.Savepoints(), 2)
	require.NoError(t, r.CheckSavepoints())

	_, err = Restore("server", delta.FromText("ab"), []delta.Change{delta.New().Retain(5, nil).Insert("z", nil)})
	assert.True(t, errors.Is(err, errors.ErrInvalidChange))
}
