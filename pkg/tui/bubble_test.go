package tui

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/parley/pkg/chat"
)

var _ = Describe("renderThread", func() {
	It("shows a retry hint under a failed message", func() {
		out := ansi.Strip(renderThread([]bubble{{role: chat.RoleUser, content: "hello", failed: true}}, 60, nil))
		Expect(out).To(ContainSubstring("hello"))
		Expect(out).To(ContainSubstring("ctrl+r to retry"))
	})

	It("shows raw text while an answer is pending", func() {
		out := ansi.Strip(renderThread([]bubble{{role: chat.RoleAssistant, content: "**partial", pending: true}}, 60, nil))
		Expect(out).To(ContainSubstring("**partial"))
	})

	It("shows a placeholder before the first fragment", func() {
		out := ansi.Strip(renderThread([]bubble{{role: chat.RoleAssistant, pending: true}}, 60, nil))
		Expect(out).To(ContainSubstring("…"))
	})

	It("right-aligns user messages", func() {
		out := ansi.Strip(renderThread([]bubble{{role: chat.RoleUser, content: "hi"}}, 60, nil))
		first := strings.Split(out, "\n")[0]
		Expect(first).To(HavePrefix(" "))
		Expect(ansi.StringWidth(first)).To(Equal(60))
	})

	It("keeps bubbles within the width", func() {
		long := strings.Repeat("word ", 60)
		out := renderThread([]bubble{
			{role: chat.RoleUser, content: long},
			{role: chat.RoleAssistant, content: long},
		}, 50, newMarkdownRenderer("notty", 30))
		for _, line := range strings.Split(out, "\n") {
			Expect(ansi.StringWidth(line)).To(BeNumerically("<=", 50))
		}
	})
})
