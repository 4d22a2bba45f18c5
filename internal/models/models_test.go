package models

import (
	"errors"
	"testing"
)

func newState(t *testing.T, aliases ...string) *AppState {
	t.Helper()
	s := NewAppState()
	for _, a := range aliases {
		if _, err := s.AddEntry(NewServerEntry(a, "", &Outbound{Address: a, Port: 1})); err != nil {
			t.Fatalf("add %q: %v", a, err)
		}
	}
	return s
}

func TestAddEntry_DefaultsAndSelection(t *testing.T) {
	s := NewAppState()
	if s.Selected() != -1 || s.Active() != -1 {
		t.Fatalf("selected/active=%d/%d, want -1/-1", s.Selected(), s.Active())
	}

	i, err := s.AddEntry(ServerEntry{IsProbing: true})
	if err != nil || i != 0 {
		t.Fatalf("index=%d err=%v", i, err)
	}
	e, _ := s.Entry(0)
	if e.Alias != "Server 1" || e.ID == "" || e.IsProbing {
		t.Fatalf("entry=%+v", e)
	}
	if s.Selected() != 0 {
		t.Fatalf("selected=%d, want=0", s.Selected())
	}

	s.AddEntry(ServerEntry{})
	if e, _ := s.Entry(1); e.Alias != "Server 2" {
		t.Fatalf("alias=%q, want=Server 2", e.Alias)
	}
	if s.Selected() != 0 {
		t.Fatalf("second add changed selection to %d", s.Selected())
	}
}

func TestDeleteEntry_ShiftsIndices(t *testing.T) {
	cases := []struct {
		name         string
		selected     int
		active       int
		del          int
		wantSelected int
		wantActive   int
	}{
		{"before selected", 2, -1, 0, 1, -1},
		{"selected itself", 1, -1, 1, -1, -1},
		{"after selected", 0, -1, 2, 0, -1},
		{"before active", 3, 3, 1, 2, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newState(t, "a", "b", "c", "d")
			if err := s.SelectEntry(tc.selected); err != nil {
				t.Fatalf("select: %v", err)
			}
			if tc.active >= 0 {
				if err := s.SetActive(tc.active); err != nil {
					t.Fatalf("set active: %v", err)
				}
			}
			if err := s.DeleteEntry(tc.del); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if s.Len() != 3 {
				t.Fatalf("len=%d, want=3", s.Len())
			}
			if s.Selected() != tc.wantSelected || s.Active() != tc.wantActive {
				t.Fatalf("selected/active=%d/%d, want=%d/%d", s.Selected(), s.Active(), tc.wantSelected, tc.wantActive)
			}
		})
	}
}

func TestDeleteEntry_Rejected(t *testing.T) {
	s := newState(t, "a", "b")
	if err := s.DeleteEntry(5); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("err=%v, want ErrIndexOutOfRange", err)
	}
	s.SetActive(1)
	if err := s.DeleteEntry(1); !errors.Is(err, ErrEntryActive) {
		t.Fatalf("err=%v, want ErrEntryActive", err)
	}
	if err := s.SelectEntry(0); !errors.Is(err, ErrSwitchWhileConnected) {
		t.Fatalf("err=%v, want ErrSwitchWhileConnected", err)
	}
	if err := s.SetActive(0); !errors.Is(err, ErrSwitchWhileConnected) {
		t.Fatalf("err=%v, want ErrSwitchWhileConnected", err)
	}
	if err := s.Replace(nil); !errors.Is(err, ErrSwitchWhileConnected) {
		t.Fatalf("err=%v, want ErrSwitchWhileConnected", err)
	}
	s.ClearActive()
	if err := s.DeleteEntry(1); err != nil {
		t.Fatalf("delete after disconnect: %v", err)
	}
}

func TestProbeBatch_BlocksEdits(t *testing.T) {
	s := newState(t, "a", "b", "c")

	snapshot := s.BeginProbeBatch()
	if len(snapshot) != 3 || s.ProbesInFlight() != 3 {
		t.Fatalf("snapshot=%d inflight=%d", len(snapshot), s.ProbesInFlight())
	}
	for i, e := range s.Entries() {
		if !e.IsProbing {
			t.Fatalf("entry %d not marked probing", i)
		}
	}

	if _, err := s.AddEntry(ServerEntry{}); !errors.Is(err, ErrProbeInFlight) {
		t.Fatalf("add err=%v, want ErrProbeInFlight", err)
	}
	if err := s.DeleteEntry(0); !errors.Is(err, ErrProbeInFlight) {
		t.Fatalf("delete err=%v, want ErrProbeInFlight", err)
	}
	if err := s.Replace(nil); !errors.Is(err, ErrProbeInFlight) {
		t.Fatalf("replace err=%v, want ErrProbeInFlight", err)
	}

	for i := range snapshot {
		s.SetPingResult(i, PingOK(10*(i+1)))
		s.SetProbing(i, false)
		s.EndProbe()
	}
	if s.ProbesInFlight() != 0 {
		t.Fatalf("inflight=%d, want=0", s.ProbesInFlight())
	}
	e, _ := s.Entry(2)
	if e.IsProbing || e.LastPing.Latency != 30 {
		t.Fatalf("entry=%+v", e)
	}
	if err := s.DeleteEntry(0); err != nil {
		t.Fatalf("delete after batch: %v", err)
	}

	s.EndProbe()
	if s.ProbesInFlight() != 0 {
		t.Fatalf("counter went negative: %d", s.ProbesInFlight())
	}
}

func TestBeginProbe(t *testing.T) {
	s := newState(t, "a")
	if _, err := s.BeginProbe(3); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("err=%v, want ErrIndexOutOfRange", err)
	}
	if s.ProbesInFlight() != 0 {
		t.Fatalf("failed BeginProbe counted")
	}
	e, err := s.BeginProbe(0)
	if err != nil || e.Alias != "a" || s.ProbesInFlight() != 1 {
		t.Fatalf("entry=%+v err=%v inflight=%d", e, err, s.ProbesInFlight())
	}
}

func TestPingResultString(t *testing.T) {
	cases := []struct {
		in   PingResult
		want string
	}{
		{PingResult{}, "-"},
		{PingFail("http: timeout"), "Fail"},
		{PingOK(87), "87ms"},
	}
	for _, tc := range cases {
		if got := tc.in.String(); got != tc.want {
			t.Fatalf("String()=%q, want=%q", got, tc.want)
		}
	}
	if PingFail("x").OK() || !PingOK(0).OK() {
		t.Fatalf("OK classification wrong")
	}
}

func TestOutboundEndpoint(t *testing.T) {
	ob := &Outbound{Address: "2001:db8::1", Port: 443}
	if got := ob.Endpoint(); got != "[2001:db8::1]:443" {
		t.Fatalf("endpoint=%q", got)
	}
}
