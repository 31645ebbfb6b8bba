package board

// Coordinates is a comment position in board view space. Z is the view depth
// used by the 3D viewer; flat views leave it at zero.
type Coordinates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Comment is an annotation attached to a board view. ID is empty until the
// remote service has persisted it.
type Comment struct {
	ID          string      `json:"id,omitempty"`
	BoardID     string      `json:"board_id" validate:"required"`
	Mode        string      `json:"mode"`
	Content     string      `json:"content" validate:"required,max=10000"`
	Coordinates Coordinates `json:"coordinates"`
	Author      string      `json:"author,omitempty"`
	UserID      string      `json:"user_id,omitempty"`
	ProductID   string      `json:"product_id,omitempty"`
	AddedAt     int64       `json:"addedAt,omitempty"`
}
