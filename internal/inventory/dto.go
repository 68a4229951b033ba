package inventory

import "time"

// MaterialRequest is the JSON body for creating or editing a material.
type MaterialRequest struct {
	Name        string     `json:"name" validate:"required,max=200"`
	Category    string     `json:"category" validate:"max=100"`
	Specs       string     `json:"specs" validate:"max=200"`
	Unit        string     `json:"unit" validate:"max=50"`
	BatchNum    string     `json:"batch_num" validate:"max=100"`
	Description string     `json:"description"`
	MinStock    int64      `json:"min_stock" validate:"gte=0"`
	ExpiryDate  *time.Time `json:"expiry_date"`
	OperatorID  int64      `json:"operator_id" validate:"gte=0"`
}

func (r MaterialRequest) input() MaterialInput {
	return MaterialInput{
		Name:        r.Name,
		Category:    r.Category,
		Specs:       r.Specs,
		Unit:        r.Unit,
		BatchNum:    r.BatchNum,
		Description: r.Description,
		MinStock:    r.MinStock,
		ExpiryDate:  r.ExpiryDate,
		OperatorID:  r.OperatorID,
	}
}

// InboundRequest is the JSON body of POST /stock/inbound.
type InboundRequest struct {
	Code       string `json:"code" validate:"max=100"`
	MaterialID int64  `json:"material_id" validate:"required,gt=0"`
	Location   string `json:"location" validate:"required,max=200"`
	Quantity   int64  `json:"quantity" validate:"required,gt=0"`
	OperatorID int64  `json:"operator_id" validate:"gte=0"`
	Remark     string `json:"remark"`
}

// OutboundRequest is the JSON body of POST /stock/outbound.
type OutboundRequest struct {
	MaterialID int64  `json:"material_id" validate:"required,gt=0"`
	Location   string `json:"location" validate:"required,max=200"`
	Quantity   int64  `json:"quantity" validate:"required,gt=0"`
	OperatorID int64  `json:"operator_id" validate:"gte=0"`
	Remark     string `json:"remark"`
}

// TransferRequest is the JSON body of POST /stock/transfer.
type TransferRequest struct {
	MaterialID   int64  `json:"material_id" validate:"required,gt=0"`
	FromLocation string `json:"from_location" validate:"required,max=200"`
	ToLocation   string `json:"to_location" validate:"required,max=200,nefield=FromLocation"`
	Quantity     int64  `json:"quantity" validate:"required,gt=0"`
	OperatorID   int64  `json:"operator_id" validate:"gte=0"`
	Remark       string `json:"remark"`
}
