package catalog

import (
	"github.com/xraph/circulate"
	"github.com/xraph/circulate/id"
)

// Book is one cataloged title. Copy counts track physical circulation:
// CopiesTotal is what the library owns, CopiesAvailable what is currently
// on the shelf.
type Book struct {
	circulate.Entity

	ID              id.BookID `json:"id"`
	ISBN            string    `json:"isbn"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	Genre           string    `json:"genre,omitempty"`
	CopiesTotal     int       `json:"copies_total"`
	CopiesAvailable int       `json:"copies_available"`
}

// Available reports whether at least one copy is on the shelf.
func (b *Book) Available() bool {
	return b.CopiesAvailable > 0
}
