package book

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Comment is a single entry in a book's append-only comment list.
type Comment struct {
	User      string    `bson:"user" json:"user"`
	Text      string    `bson:"text" json:"text"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

// Book is the catalog record for one uploaded document. FileID references
// the stored object in the chunk store; FileName/FileSize/MimeType are
// denormalized from the object at upload time. Stars holds the subs of users
// who starred the book and is the authoritative side of the favorites
// relation.
type Book struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Title      string             `bson:"title" json:"title"`
	Author     string             `bson:"author" json:"author"`
	Year       int                `bson:"year,omitempty" json:"year,omitempty"`
	Semester   int                `bson:"semester,omitempty" json:"semester,omitempty"`
	Department primitive.ObjectID `bson:"department" json:"department"`
	UploadedBy string             `bson:"uploadedBy" json:"uploadedBy"`
	FileID     string             `bson:"fileId" json:"fileId"`
	FileName   string             `bson:"fileName" json:"fileName"`
	FileSize   int64              `bson:"fileSize" json:"fileSize"`
	MimeType   string             `bson:"mimeType" json:"mimeType"`
	Stars      []string           `bson:"stars,omitempty" json:"stars"`
	Comments   []Comment          `bson:"comments,omitempty" json:"comments"`
	CreatedAt  time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt  time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// StarCount returns the number of distinct starring users.
func (b *Book) StarCount() int { return len(b.Stars) }
