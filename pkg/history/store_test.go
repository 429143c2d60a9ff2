package history_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/parley/pkg/chat"
	"github.com/papercomputeco/parley/pkg/history"
)

// storeBehaviour runs the Store contract against a driver.
func storeBehaviour(newStore func() history.Store) {
	var (
		store history.Store
		ctx   context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = newStore()
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	appendMsg := func(convID string, role chat.Role, content string) *history.Message {
		msg := &history.Message{ConversationID: convID, Role: role, Content: content}
		Expect(store.AppendMessage(ctx, msg)).To(Succeed())
		return msg
	}

	Describe("CreateConversation and GetConversation", func() {
		It("creates and retrieves a conversation", func() {
			c, err := store.CreateConversation(ctx, "greetings")
			Expect(err).NotTo(HaveOccurred())
			Expect(c.ID).NotTo(BeEmpty())
			Expect(c.RemoteID).To(BeEmpty())

			got, err := store.GetConversation(ctx, c.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(c.ID))
			Expect(got.Title).To(Equal("greetings"))
			Expect(got.CreatedAt).To(BeTemporally("==", c.CreatedAt))
		})

		It("returns ErrNotFound for a missing conversation", func() {
			_, err := store.GetConversation(ctx, "missing")
			Expect(err).To(MatchError(history.ErrNotFound{ID: "missing"}))
		})
	})

	Describe("SetRemoteID", func() {
		It("records the remote identifier", func() {
			c, err := store.CreateConversation(ctx, "t")
			Expect(err).NotTo(HaveOccurred())

			Expect(store.SetRemoteID(ctx, c.ID, "remote-1")).To(Succeed())

			got, err := store.GetConversation(ctx, c.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.RemoteID).To(Equal("remote-1"))
		})

		It("fails for a missing conversation", func() {
			Expect(store.SetRemoteID(ctx, "missing", "r")).To(MatchError(history.ErrNotFound{ID: "missing"}))
		})
	})

	Describe("AppendMessage and Messages", func() {
		It("returns messages in conversation order", func() {
			c, err := store.CreateConversation(ctx, "t")
			Expect(err).NotTo(HaveOccurred())

			first := appendMsg(c.ID, chat.RoleUser, "hello")
			appendMsg(c.ID, chat.RoleAssistant, "hi there")
			appendMsg(c.ID, chat.RoleUser, "how are you?")

			Expect(first.ID).NotTo(BeEmpty())
			Expect(first.CreatedAt.IsZero()).To(BeFalse())

			msgs, err := store.Messages(ctx, c.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(HaveLen(3))
			Expect(msgs[0].ID).To(Equal(first.ID))
			Expect(msgs[0].Content).To(Equal("hello"))
			Expect(msgs[1].Role).To(Equal(chat.RoleAssistant))
			Expect(msgs[2].Content).To(Equal("how are you?"))
		})

		It("keeps conversations apart", func() {
			a, _ := store.CreateConversation(ctx, "a")
			b, _ := store.CreateConversation(ctx, "b")
			appendMsg(a.ID, chat.RoleUser, "in a")
			appendMsg(b.ID, chat.RoleUser, "in b")

			msgs, err := store.Messages(ctx, a.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].Content).To(Equal("in a"))
		})

		It("rejects a message for a missing conversation", func() {
			err := store.AppendMessage(ctx, &history.Message{ConversationID: "missing", Role: chat.RoleUser})
			Expect(err).To(MatchError(history.ErrNotFound{ID: "missing"}))
		})

		It("returns ErrNotFound for messages of a missing conversation", func() {
			_, err := store.Messages(ctx, "missing")
			Expect(err).To(MatchError(history.ErrNotFound{ID: "missing"}))
		})
	})

	Describe("MarkFailed", func() {
		It("flags and unflags a message", func() {
			c, _ := store.CreateConversation(ctx, "t")
			msg := appendMsg(c.ID, chat.RoleUser, "lost")

			Expect(store.MarkFailed(ctx, msg.ID, true)).To(Succeed())
			msgs, _ := store.Messages(ctx, c.ID)
			Expect(msgs[0].Failed).To(BeTrue())

			Expect(store.MarkFailed(ctx, msg.ID, false)).To(Succeed())
			msgs, _ = store.Messages(ctx, c.ID)
			Expect(msgs[0].Failed).To(BeFalse())
		})

		It("fails for a missing message", func() {
			Expect(store.MarkFailed(ctx, "missing", true)).To(MatchError(history.ErrNotFound{ID: "missing"}))
		})
	})

	Describe("ListConversations", func() {
		It("lists the most recently updated first", func() {
			older, _ := store.CreateConversation(ctx, "older")
			newer, _ := store.CreateConversation(ctx, "newer")
			appendMsg(older.ID, chat.RoleUser, "bump")

			list, err := store.ListConversations(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(2))
			Expect(list[0].ID).To(Equal(older.ID))
			Expect(list[1].ID).To(Equal(newer.ID))
		})

		It("is empty for a new store", func() {
			list, err := store.ListConversations(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(BeEmpty())
		})
	})

	Describe("DeleteConversation and Clear", func() {
		It("deletes one conversation and its messages", func() {
			keep, _ := store.CreateConversation(ctx, "keep")
			drop, _ := store.CreateConversation(ctx, "drop")
			appendMsg(drop.ID, chat.RoleUser, "bye")

			Expect(store.DeleteConversation(ctx, drop.ID)).To(Succeed())

			_, err := store.GetConversation(ctx, drop.ID)
			Expect(err).To(MatchError(history.ErrNotFound{ID: drop.ID}))
			_, err = store.GetConversation(ctx, keep.ID)
			Expect(err).NotTo(HaveOccurred())

			Expect(store.DeleteConversation(ctx, drop.ID)).To(MatchError(history.ErrNotFound{ID: drop.ID}))
		})

		It("clears everything", func() {
			c, _ := store.CreateConversation(ctx, "a")
			appendMsg(c.ID, chat.RoleUser, "x")
			_, _ = store.CreateConversation(ctx, "b")

			Expect(store.Clear(ctx)).To(Succeed())

			list, err := store.ListConversations(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(BeEmpty())
		})
	})
}

var _ = Describe("MemoryStore", func() {
	storeBehaviour(func() history.Store { return history.NewMemoryStore() })
})

var _ = Describe("SQLiteStore", func() {
	storeBehaviour(func() history.Store {
		s, err := history.NewSQLiteStore(":memory:")
		Expect(err).NotTo(HaveOccurred())
		return s
	})

	It("persists to a file across reopen", func() {
		ctx := context.Background()
		path := filepath.Join(GinkgoT().TempDir(), "nested", "parley.db")

		s, err := history.NewSQLiteStore(path)
		Expect(err).NotTo(HaveOccurred())
		c, err := s.CreateConversation(ctx, "durable")
		Expect(err).NotTo(HaveOccurred())
		Expect(s.AppendMessage(ctx, &history.Message{ConversationID: c.ID, Role: chat.RoleUser, Content: "still here"})).To(Succeed())
		Expect(s.Close()).To(Succeed())

		_, err = os.Stat(path)
		Expect(err).NotTo(HaveOccurred())

		s, err = history.NewSQLiteStore(path)
		Expect(err).NotTo(HaveOccurred())
		defer s.Close()

		msgs, err := s.Messages(ctx, c.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(1))
		Expect(msgs[0].Content).To(Equal("still here"))
	})
})

var _ = Describe("Turns", func() {
	It("drops failed messages and timestamps", func() {
		turns := history.Turns([]*history.Message{
			{Role: chat.RoleUser, Content: "a"},
			{Role: chat.RoleUser, Content: "lost", Failed: true},
			{Role: chat.RoleAssistant, Content: "b"},
		})

		Expect(turns).To(Equal([]chat.Turn{
			{Role: chat.RoleUser, Content: "a"},
			{Role: chat.RoleAssistant, Content: "b"},
		}))
	})

	It("returns an empty slice for no messages", func() {
		Expect(history.Turns(nil)).To(BeEmpty())
	})
})

var _ = Describe("Title", func() {
	It("collapses whitespace", func() {
		Expect(history.Title("  hello \n  world ")).To(Equal("hello world"))
	})

	It("truncates long messages", func() {
		title := history.Title(strings.Repeat("é", 60))
		Expect([]rune(title)).To(HaveLen(49))
		Expect(title).To(HaveSuffix("…"))
	})
})
