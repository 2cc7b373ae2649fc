package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/ChaceN89/library/internal/util"
	"github.com/ChaceN89/library/pkg/access"
	"github.com/ChaceN89/library/pkg/domain"
)

// CommentInput creates a comment, optionally as a reply.
type CommentInput struct {
	BookID   string
	ParentID string
	Content  string
}

// CreateComment posts caller's comment on a book. Replies must stay on the
// parent's book.
func (a *App) CreateComment(ctx context.Context, caller domain.User, in CommentInput) (view CommentView, err error) {
	defer a.observe(domain.EntityComment, "create", &err)
	if err := requireCaller(caller); err != nil {
		return CommentView{}, err
	}
	if _, err := a.getBook(ctx, in.BookID); err != nil {
		return CommentView{}, err
	}
	content := plainText(in.Content)
	if content == "" {
		return CommentView{}, invalid("content is required")
	}

	now := a.now()
	userID := caller.ID
	comment := domain.Comment{
		ID:        util.NewID(),
		BookID:    in.BookID,
		UserID:    &userID,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.ParentID != "" {
		parent, ok, err := a.store.GetComment(ctx, in.ParentID)
		if err != nil {
			return CommentView{}, err
		}
		if !ok {
			return CommentView{}, invalid("parent comment %s does not exist", in.ParentID)
		}
		if err := access.CheckReply(in.BookID, parent); err != nil {
			return CommentView{}, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		comment.ParentID = &parent.ID
	}
	if err := a.store.CreateComment(ctx, comment); err != nil {
		return CommentView{}, fmt.Errorf("save comment: %w", err)
	}
	return commentView(comment, caller.Username), nil
}

// UpdateComment replaces the content of caller's comment.
func (a *App) UpdateComment(ctx context.Context, caller domain.User, id, content string) (view CommentView, err error) {
	defer a.observe(domain.EntityComment, "update", &err)
	comment, err := a.ownComment(ctx, caller, id)
	if err != nil {
		return CommentView{}, err
	}
	if comment.IsDeleted {
		return CommentView{}, invalid("deleted comments cannot be edited")
	}
	content = plainText(content)
	if content == "" {
		return CommentView{}, invalid("content is required")
	}
	comment.Content = content
	comment.IsEdited = true
	comment.UpdatedAt = a.now()
	if err := a.store.UpdateComment(ctx, comment); err != nil {
		return CommentView{}, fmt.Errorf("save comment: %w", err)
	}
	return commentView(comment, caller.Username), nil
}

// TombstoneComment retires caller's comment. The row stays so replies keep
// their place in the thread; repeating the call is a no-op.
func (a *App) TombstoneComment(ctx context.Context, caller domain.User, id string) (view CommentView, err error) {
	defer a.observe(domain.EntityComment, "delete", &err)
	comment, err := a.ownComment(ctx, caller, id)
	if err != nil {
		return CommentView{}, err
	}
	if comment.IsDeleted {
		return commentView(comment, caller.Username), nil
	}
	comment.Content = domain.DeletedCommentPlaceholder
	comment.IsDeleted = true
	comment.UpdatedAt = a.now()
	if err := a.store.UpdateComment(ctx, comment); err != nil {
		return CommentView{}, fmt.Errorf("save comment: %w", err)
	}
	return commentView(comment, caller.Username), nil
}

func (a *App) ownComment(ctx context.Context, caller domain.User, id string) (domain.Comment, error) {
	if err := requireCaller(caller); err != nil {
		return domain.Comment{}, err
	}
	comment, ok, err := a.store.GetComment(ctx, id)
	if err != nil {
		return domain.Comment{}, err
	}
	if !ok {
		return domain.Comment{}, notFound(domain.EntityComment, id)
	}
	if err := access.AuthorizeComment(caller, comment); err != nil {
		return domain.Comment{}, denied(domain.EntityComment, err)
	}
	return comment, nil
}

// ListThread returns the book's comments as a forest: top-level comments in
// creation order, each carrying its replies.
func (a *App) ListThread(ctx context.Context, bookID string) ([]CommentView, error) {
	if _, err := a.getBook(ctx, bookID); err != nil {
		return nil, err
	}
	comments, err := a.store.ListCommentsByBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	names, err := a.usernames(ctx, comments)
	if err != nil {
		return nil, err
	}

	present := make(map[string]bool, len(comments))
	children := make(map[string][]domain.Comment)
	for _, c := range comments {
		present[c.ID] = true
	}
	var roots []domain.Comment
	for _, c := range comments {
		if c.ParentID != nil && present[*c.ParentID] && *c.ParentID != c.ID {
			children[*c.ParentID] = append(children[*c.ParentID], c)
			continue
		}
		roots = append(roots, c)
	}

	visited := make(map[string]bool, len(comments))
	var build func(c domain.Comment) CommentView
	build = func(c domain.Comment) CommentView {
		visited[c.ID] = true
		v := commentView(c, names[c.AuthorID()])
		for _, child := range children[c.ID] {
			if visited[child.ID] {
				continue
			}
			v.Replies = append(v.Replies, build(child))
		}
		return v
	}
	out := make([]CommentView, 0, len(roots))
	for _, c := range roots {
		out = append(out, build(c))
	}
	return out, nil
}

func (a *App) usernames(ctx context.Context, comments []domain.Comment) (map[string]string, error) {
	names := map[string]string{"": ""}
	for _, c := range comments {
		id := c.AuthorID()
		if _, done := names[id]; done {
			continue
		}
		u, err := a.getUser(ctx, id)
		if errors.Is(err, ErrNotFound) {
			names[id] = ""
			continue
		}
		if err != nil {
			return nil, err
		}
		names[id] = u.Username
	}
	return names, nil
}
