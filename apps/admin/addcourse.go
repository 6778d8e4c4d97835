package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/trezcool/lms/core"
	"github.com/trezcool/lms/core/course"
)

func (cli *commandLine) addCourse(id, title, educatorID, price string, publish bool) error {
	amount, err := decimal.NewFromString(price)
	if err != nil {
		return core.NewValidationError(nil, core.FieldError{Field: "price", Error: "price must be a number"})
	}
	data := course.NewCourse{Title: title, EducatorID: educatorID, Price: amount}
	if err = data.Validate(cli.validate); err != nil {
		return err
	}

	if id = core.CleanString(id); id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	crs, err := cli.stores.Courses.CreateCourse(context.Background(), course.Course{
		ID:          id,
		Title:       data.Title,
		EducatorID:  data.EducatorID,
		Price:       data.Price,
		IsPublished: publish,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "created course %s (%s)\n", crs.ID, crs.Title)
	return nil
}
