package requests

type PubKeyForm struct {
	Identity string `query:"identity" json:"identity" validate:"attr=identity,min=1"`
}

type JobForm struct {
	Kind string `query:"kind" json:"kind" validate:"attr=kind,min=4"`
	ID   string `query:"id" json:"id" validate:"attr=id,min=1"`
}
