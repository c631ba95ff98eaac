package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	. "github.com/onsi/gomega"

	"github.com/san-kum/ribosim/internal/scheduler"
)

func TestStatusUpdate(t *testing.T) {
	g := NewWithT(t)
	m := New("ribosim")
	rows := StatusMsg{
		{TrajID: 1, StartLength: 1, Status: "1200(40.0%)", CurrentLength: 7, Started: true, Elapsed: 90 * time.Second, Speed: 1234.5},
		{TrajID: 2, StartLength: 4, Status: scheduler.StatusWait},
		{TrajID: 3, StartLength: 1, Status: scheduler.StatusCrashed, Started: true},
	}
	next, cmd := m.Update(rows)
	g.Expect(cmd).To(BeNil())
	view := next.View()
	g.Expect(view).To(ContainSubstring("1200(40.0%)"))
	g.Expect(view).To(ContainSubstring("0:01:30"))
	g.Expect(view).To(ContainSubstring("1,234.5"))
	g.Expect(view).To(ContainSubstring("1 running"))
	g.Expect(view).To(ContainSubstring("1 waiting"))
	g.Expect(view).To(ContainSubstring("1 crashed"))
	g.Expect(strings.Count(view, "\n")).To(BeNumerically(">=", 6))
}

func TestDoneQuits(t *testing.T) {
	g := NewWithT(t)
	next, cmd := New("ribosim").Update(DoneMsg{})
	g.Expect(cmd).NotTo(BeNil())
	g.Expect(cmd()).To(Equal(tea.Quit()))
	g.Expect(next.(Model).Quit()).To(BeFalse())
}

func TestDetach(t *testing.T) {
	g := NewWithT(t)
	next, cmd := New("ribosim").Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	g.Expect(cmd).NotTo(BeNil())
	g.Expect(next.(Model).Quit()).To(BeTrue())
}
