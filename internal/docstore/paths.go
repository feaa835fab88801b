package docstore

import (
	"fmt"
	"strings"
)

// Paths builds document paths. A non-empty Namespace prefixes every
// top-level collection so that several deployments can share one store.
type Paths struct {
	Namespace string
}

func (p Paths) root(name string) string {
	if p.Namespace == "" {
		return name
	}
	return p.Namespace + "_" + name
}

func (p Paths) Boards() string { return p.root("boards") }
func (p Paths) Board(id string) string { return p.Boards() + "/" + id }
func (p Paths) Folders() string { return p.root("folders") }
func (p Paths) Folder(id string) string { return p.Folders() + "/" + id }
func (p Paths) GlobalConfig() string { return p.root("configs") + "/global" }
func (p Paths) Sections(boardID string) string { return p.Board(boardID) + "/sections" }
func (p Paths) Posts(boardID string) string { return p.Board(boardID) + "/posts" }

func (p Paths) Section(boardID, sectionID string) string {
	return p.Sections(boardID) + "/" + sectionID
}

func (p Paths) Post(boardID, postID string) string {
	return p.Posts(boardID) + "/" + postID
}

// Split returns the collection and id of a document path.
func Split(path string) (collection, id string, err error) {
	segs := strings.Split(path, "/")
	if len(segs) < 2 || len(segs)%2 != 0 {
		return "", "", fmt.Errorf("invalid document path %q", path)
	}
	for _, s := range segs {
		if s == "" {
			return "", "", fmt.Errorf("invalid document path %q", path)
		}
	}
	i := strings.LastIndex(path, "/")
	return path[:i], path[i+1:], nil
}
