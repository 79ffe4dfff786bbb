package parsers

import (
	"io"

	"github.com/username/cryptofolio/src/models"
)

type Parser interface {
	Parse(file io.Reader) ([]models.Transaction, error)
}
