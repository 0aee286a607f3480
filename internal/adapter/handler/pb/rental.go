package pb

import "time"

type CreateRentalRequest struct {
	RequestId  string    `json:"request_id,omitempty"`
	MovieId    int64     `json:"movie_id"`
	UserId     string    `json:"user_id"`
	RentalDate time.Time `json:"rental_date"`
	DueDate    time.Time `json:"due_date"`
}

func (x *CreateRentalRequest) GetRequestId() string {
	if x != nil {
		return x.RequestId
	}
	return ""
}

func (x *CreateRentalRequest) GetMovieId() int64 {
	if x != nil {
		return x.MovieId
	}
	return 0
}

func (x *CreateRentalRequest) GetUserId() string {
	if x != nil {
		return x.UserId
	}
	return ""
}

func (x *CreateRentalRequest) GetRentalDate() time.Time {
	if x != nil {
		return x.RentalDate
	}
	return time.Time{}
}

func (x *CreateRentalRequest) GetDueDate() time.Time {
	if x != nil {
		return x.DueDate
	}
	return time.Time{}
}

type ReturnRentalRequest struct {
	RentalId   int64     `json:"rental_id"`
	ReturnedAt time.Time `json:"returned_at"`
}

func (x *ReturnRentalRequest) GetRentalId() int64 {
	if x != nil {
		return x.RentalId
	}
	return 0
}

func (x *ReturnRentalRequest) GetReturnedAt() time.Time {
	if x != nil {
		return x.ReturnedAt
	}
	return time.Time{}
}

type GetRentalRequest struct {
	RentalId int64 `json:"rental_id"`
}

func (x *GetRentalRequest) GetRentalId() int64 {
	if x != nil {
		return x.RentalId
	}
	return 0
}

type ListOverdueRequest struct {
	AsOf time.Time `json:"as_of"`
}

func (x *ListOverdueRequest) GetAsOf() time.Time {
	if x != nil {
		return x.AsOf
	}
	return time.Time{}
}

type Rental struct {
	Id         int64      `json:"id"`
	MovieId    int64      `json:"movie_id"`
	UserId     string     `json:"user_id"`
	RentalDate time.Time  `json:"rental_date"`
	DueDate    time.Time  `json:"due_date"`
	ReturnedAt *time.Time `json:"returned_at,omitempty"`
	Status     string     `json:"status"`
}
