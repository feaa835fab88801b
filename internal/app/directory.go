package app

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"corkboard/api/internal/authpw"
	"corkboard/api/internal/board"
	"corkboard/api/internal/docstore"
	"corkboard/api/internal/rbac"
	"corkboard/api/internal/util"
)

// Directory is one user's boards and folders, newest first.
type Directory struct {
	Boards  []board.Board  `json:"boards"`
	Folders []board.Folder `json:"folders"`
}

type NewBoard struct {
	Title             string                `json:"title"`
	Description       string                `json:"description"`
	Layout            board.Layout          `json:"layout"`
	Privacy           board.Privacy         `json:"privacy"`
	Password          string                `json:"password"`
	GuestPermission   board.GuestPermission `json:"guestPermission"`
	ModerationEnabled bool                  `json:"moderationEnabled"`
	DefaultSort       string                `json:"defaultSort"`
	FolderID          string                `json:"folderId"`
}

// SubscribeDirectory streams the boards and folders owned by userID. A new
// Directory is sent after every snapshot of either collection; a slow
// reader only sees the latest one. The channel closes when ctx ends.
func (s *Service) SubscribeDirectory(ctx context.Context, userID string) (<-chan Directory, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, invalidInput("user id is required", nil)
	}
	subCtx, cancel := context.WithCancel(ctx)
	boardsCh, err := s.store.Subscribe(subCtx, docstore.Query{Collection: s.paths.Boards()}.Where("ownerId", userID))
	if err != nil {
		cancel()
		return nil, storeError(err, "boards")
	}
	foldersCh, err := s.store.Subscribe(subCtx, docstore.Query{Collection: s.paths.Folders()}.Where("ownerId", userID))
	if err != nil {
		cancel()
		return nil, storeError(err, "folders")
	}

	out := make(chan Directory, 1)
	go func() {
		defer cancel()
		defer close(out)
		var dir Directory
		log := s.logger.With(zap.String("uid", userID))
		for boardsCh != nil || foldersCh != nil {
			select {
			case snap, ok := <-boardsCh:
				if !ok {
					boardsCh = nil
					continue
				}
				if snap.Err != nil {
					log.Warn("board directory snapshot failed", zap.Error(snap.Err))
					continue
				}
				dir.Boards = sortBoards(snap.Docs, log)
			case snap, ok := <-foldersCh:
				if !ok {
					foldersCh = nil
					continue
				}
				if snap.Err != nil {
					log.Warn("folder directory snapshot failed", zap.Error(snap.Err))
					continue
				}
				dir.Folders = sortFolders(snap.Docs, log)
			}
			sendLatest(out, Directory{Boards: nonNilBoards(dir.Boards), Folders: nonNilFolders(dir.Folders)})
		}
	}()
	return out, nil
}

// sendLatest replaces any unread value in a one-slot channel with v.
func sendLatest[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

func sortBoards(docs []docstore.Document, log *zap.Logger) []board.Board {
	boards := make([]board.Board, 0, len(docs))
	for _, doc := range docs {
		var b board.Board
		if err := doc.DataTo(&b); err != nil {
			log.Warn("skipping undecodable board", zap.String("path", doc.Path), zap.Error(err))
			continue
		}
		b.ID = doc.ID
		boards = append(boards, b.Redacted())
	}
	sort.SliceStable(boards, func(i, j int) bool { return boards[i].CreatedAt.After(boards[j].CreatedAt) })
	return boards
}

func sortFolders(docs []docstore.Document, log *zap.Logger) []board.Folder {
	folders := make([]board.Folder, 0, len(docs))
	for _, doc := range docs {
		var f board.Folder
		if err := doc.DataTo(&f); err != nil {
			log.Warn("skipping undecodable folder", zap.String("path", doc.Path), zap.Error(err))
			continue
		}
		f.ID = doc.ID
		folders = append(folders, f)
	}
	sort.SliceStable(folders, func(i, j int) bool { return folders[i].CreatedAt.After(folders[j].CreatedAt) })
	return folders
}

func nonNilBoards(b []board.Board) []board.Board {
	if b == nil {
		return []board.Board{}
	}
	return b
}

func nonNilFolders(f []board.Folder) []board.Folder {
	if f == nil {
		return []board.Folder{}
	}
	return f
}

// CreateBoard stores a new board owned by the current user. Missing
// settings get their defaults; shelf and stream boards also get an
// "Uncategorized" section before this returns.
func (s *Service) CreateBoard(ctx context.Context, in NewBoard) (board.Board, error) {
	u, err := s.requireUser(ctx)
	if err != nil {
		return board.Board{}, err
	}

	b := board.Board{
		ID:                util.NewID("brd"),
		Title:             s.sanitizeText(in.Title),
		Description:       s.sanitizeText(in.Description),
		Layout:            in.Layout,
		OwnerID:           u.UID,
		Privacy:           in.Privacy,
		GuestPermission:   in.GuestPermission,
		ModerationEnabled: in.ModerationEnabled,
		DefaultSort:       strings.TrimSpace(in.DefaultSort),
		FolderID:          strings.TrimSpace(in.FolderID),
		CreatedAt:         s.now(),
	}
	if b.Title == "" {
		return board.Board{}, invalidInput("title is required", map[string]any{"field": "title"})
	}
	if b.Layout == "" {
		b.Layout = board.LayoutShelf
	}
	if !b.Layout.Valid() {
		return board.Board{}, invalidInput("unknown layout", map[string]any{"field": "layout", "value": in.Layout})
	}
	if b.GuestPermission == "" {
		b.GuestPermission = board.GuestEdit
	}
	if b.GuestPermission != board.GuestEdit && b.GuestPermission != board.GuestView {
		return board.Board{}, invalidInput("unknown guest permission", map[string]any{"field": "guestPermission"})
	}
	if b.Privacy == "" {
		b.Privacy = board.PrivacyPublic
	}
	if err := validPrivacy(b.Privacy); err != nil {
		return board.Board{}, err
	}
	if b.DefaultSort == "" {
		b.DefaultSort = board.DefaultSort
	}
	if b.Privacy == board.PrivacyPassword {
		hash, err := authpw.Hash(in.Password)
		if err != nil {
			return board.Board{}, invalidInput(err.Error(), map[string]any{"field": "password"})
		}
		b.Password = hash
	}

	if err := s.store.Set(ctx, s.paths.Board(b.ID), b); err != nil {
		return board.Board{}, storeError(err, "board")
	}
	if b.Layout.Sectioned() {
		sec := board.Section{
			ID:      util.NewID("sec"),
			BoardID: b.ID,
			Title:   board.DefaultSectionName,
			Order:   0,
		}
		if err := s.store.Set(ctx, s.paths.Section(b.ID, sec.ID), sec); err != nil {
			return board.Board{}, storeError(err, "section")
		}
	}

	s.logger.Info("board created",
		zap.String("board_id", b.ID),
		zap.String("owner_id", b.OwnerID),
		zap.String("layout", string(b.Layout)),
	)
	return b.Redacted(), nil
}

func validPrivacy(p board.Privacy) error {
	switch p {
	case board.PrivacyPublic, board.PrivacyPrivate, board.PrivacyPassword:
		return nil
	}
	return invalidInput("unknown privacy", map[string]any{"field": "privacy", "value": p})
}

// boardSettingFields lists the writable board fields and the JSON type
// each must hold. A value of another type would leave the board document
// undecodable.
var boardSettingFields = map[string]string{
	"title":             "string",
	"description":       "string",
	"layout":            "string",
	"privacy":           "string",
	"password":          "string",
	"guestPermission":   "string",
	"moderationEnabled": "bool",
	"defaultSort":       "string",
	"folderId":          "string",
}

func hasSettingType(kind string, v any) bool {
	if kind == "bool" {
		_, ok := v.(bool)
		return ok
	}
	_, ok := v.(string)
	return ok
}

// UpdateBoard writes board settings. id, createdAt and ownerId are dropped
// from fields; a new password is stored hashed.
func (s *Service) UpdateBoard(ctx context.Context, boardID string, fields map[string]any) error {
	b, _, err := s.authorize(ctx, boardID, rbac.ActionSettings)
	if err != nil {
		return err
	}

	update := make(map[string]any, len(fields))
	for k, v := range fields {
		switch k {
		case "id", "createdAt", "ownerId":
			continue
		}
		kind, known := boardSettingFields[k]
		if !known {
			return invalidInput("unknown board field", map[string]any{"field": k})
		}
		if !hasSettingType(kind, v) {
			return invalidInput("board field has the wrong type", map[string]any{"field": k, "type": kind})
		}
		update[k] = v
	}
	if len(update) == 0 {
		return nil
	}

	if v, ok := update["title"]; ok {
		title, _ := v.(string)
		title = s.sanitizeText(title)
		if title == "" {
			return invalidInput("title is required", map[string]any{"field": "title"})
		}
		update["title"] = title
	}
	if v, ok := update["description"].(string); ok {
		update["description"] = s.sanitizeText(v)
	}
	for _, k := range []string{"defaultSort", "folderId"} {
		if v, ok := update[k].(string); ok {
			update[k] = strings.TrimSpace(v)
		}
	}
	if v, ok := update["layout"]; ok {
		layout, _ := v.(string)
		if !board.Layout(layout).Valid() {
			return invalidInput("unknown layout", map[string]any{"field": "layout", "value": v})
		}
	}
	if v, ok := update["guestPermission"]; ok {
		perm, _ := v.(string)
		if perm != string(board.GuestEdit) && perm != string(board.GuestView) {
			return invalidInput("unknown guest permission", map[string]any{"field": "guestPermission"})
		}
	}

	privacy := b.Privacy
	if v, ok := update["privacy"]; ok {
		p, _ := v.(string)
		privacy = board.Privacy(p)
		if err := validPrivacy(privacy); err != nil {
			return err
		}
	}
	if v, ok := update["password"]; ok {
		pw, _ := v.(string)
		if pw == "" {
			delete(update, "password")
		} else {
			hash, err := authpw.Hash(pw)
			if err != nil {
				return invalidInput(err.Error(), map[string]any{"field": "password"})
			}
			update["password"] = hash
		}
	}
	if privacy == board.PrivacyPassword && b.Password == "" && update["password"] == nil {
		return invalidInput(authpw.ErrPasswordRequired.Error(), map[string]any{"field": "password"})
	}
	if len(update) == 0 {
		return nil
	}

	if err := s.store.Update(ctx, s.paths.Board(boardID), update); err != nil {
		return storeError(err, "board")
	}
	return nil
}

// DeleteBoard removes the board document only. Sections, posts and
// attachments stay in the store.
func (s *Service) DeleteBoard(ctx context.Context, boardID string) error {
	if _, _, err := s.authorize(ctx, boardID, rbac.ActionSettings); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, s.paths.Board(boardID)); err != nil {
		return storeError(err, "board")
	}
	s.logger.Info("board deleted", zap.String("board_id", boardID))
	return nil
}

func (s *Service) CreateFolder(ctx context.Context, name string) (board.Folder, error) {
	u, err := s.requireUser(ctx)
	if err != nil {
		return board.Folder{}, err
	}
	f := board.Folder{
		ID:        util.NewID("fld"),
		Name:      s.sanitizeText(name),
		OwnerID:   u.UID,
		CreatedAt: s.now(),
	}
	if f.Name == "" {
		return board.Folder{}, invalidInput("folder name is required", map[string]any{"field": "name"})
	}
	if err := s.store.Set(ctx, s.paths.Folder(f.ID), f); err != nil {
		return board.Folder{}, storeError(err, "folder")
	}
	return f, nil
}

func (s *Service) ownedFolder(ctx context.Context, folderID string) (board.Folder, error) {
	u, err := s.requireUser(ctx)
	if err != nil {
		return board.Folder{}, err
	}
	doc, err := s.store.Get(ctx, s.paths.Folder(folderID))
	if err != nil {
		return board.Folder{}, storeError(err, "folder")
	}
	var f board.Folder
	if err := doc.DataTo(&f); err != nil {
		return board.Folder{}, err
	}
	f.ID = doc.ID
	if f.OwnerID != u.UID {
		return board.Folder{}, permissionDenied("Only the folder owner can change this folder")
	}
	return f, nil
}

func (s *Service) RenameFolder(ctx context.Context, folderID, name string) error {
	if _, err := s.ownedFolder(ctx, folderID); err != nil {
		return err
	}
	name = s.sanitizeText(name)
	if name == "" {
		return invalidInput("folder name is required", map[string]any{"field": "name"})
	}
	return storeError(s.store.Update(ctx, s.paths.Folder(folderID), map[string]any{"name": name}), "folder")
}

// DeleteFolder removes the folder document. Boards that referenced it keep
// their folderId.
func (s *Service) DeleteFolder(ctx context.Context, folderID string) error {
	if _, err := s.ownedFolder(ctx, folderID); err != nil {
		return err
	}
	return storeError(s.store.Delete(ctx, s.paths.Folder(folderID)), "folder")
}

// MoveBoardToFolder files a board under one of the owner's folders. An
// empty folderID takes it out of any folder.
func (s *Service) MoveBoardToFolder(ctx context.Context, boardID, folderID string) error {
	if _, _, err := s.authorize(ctx, boardID, rbac.ActionSettings); err != nil {
		return err
	}
	if folderID != "" {
		if _, err := s.ownedFolder(ctx, folderID); err != nil {
			return err
		}
	}
	if err := s.store.Update(ctx, s.paths.Board(boardID), map[string]any{"folderId": folderID}); err != nil {
		return storeError(err, "board")
	}
	return nil
}
